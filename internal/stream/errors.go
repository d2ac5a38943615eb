// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error taxonomy for chat streams.
var (
	// ErrRateLimited indicates the backend answered 429. Retry later.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates the backend answered 402 (credits exhausted).
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRequestFailed covers any other non-2xx status, a missing body, and
	// transport failures while reading the stream.
	ErrRequestFailed = errors.New("request failed")

	// ErrMalformedFrame is returned by ExtractDelta for payloads that are not
	// valid JSON. The assembler absorbs it; it never reaches callers.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrCancelled marks a stream stopped by its context.
	ErrCancelled = errors.New("stream cancelled")
)

// StatusError is a non-success HTTP status returned before streaming began.
type StatusError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, msg)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("backend error (HTTP %d): %s, retry after %v", e.Status, msg, e.RetryAfter)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, msg)
}

// Unwrap maps the status onto the taxonomy so errors.Is works.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExceeded
	default:
		return ErrRequestFailed
	}
}

// errorBody is the JSON error shape the backend uses. Both {"error":"msg"}
// and {"error":{"code":..,"message":..}} are seen in practice.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// NewStatusError builds a StatusError from a non-2xx response status, body and
// headers. The body is parsed best-effort.
func NewStatusError(status int, body []byte, header http.Header) *StatusError {
	se := &StatusError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		se.Message = eb.Message
		if len(eb.Error) > 0 {
			var s string
			var obj struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(eb.Error, &s) == nil {
				se.Message = s
			} else if json.Unmarshal(eb.Error, &obj) == nil {
				se.Code = obj.Code
				if obj.Message != "" {
					se.Message = obj.Message
				}
			}
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		se.Message = text
	}

	if header != nil {
		se.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}
	return se
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Classification returns a short, stable name for err suitable for UI and
// logs: "rate_limited", "quota_exceeded", "request_failed", "cancelled" or "".
func Classification(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	default:
		return "request_failed"
	}
}
