// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/logging"
	"github.com/jeranaias/deepagro/internal/stream"
)

const (
	// DefaultBaseURL is the local development backend.
	DefaultBaseURL = "http://localhost:5000"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of attempts for prediction calls.
	DefaultMaxRetries = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	// MaxResponseSize limits JSON response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "deepagro/1.0"
)

// ErrInvalidInput is matched by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports one out-of-range form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int

	// RequestsPerSecond paces outgoing calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	Logger     *zerolog.Logger
	HTTPClient *http.Client
}

// OptionsFromConfig maps the [api] config section onto Options.
func OptionsFromConfig(c config.APIConfig) Options {
	return Options{
		BaseURL:           c.BaseURL,
		Token:             c.Token,
		Timeout:           time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// Client talks to the advisory backend.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	limiter    *rate.Limiter
	http       *http.Client
	log        zerolog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/"),
		token:      strings.TrimSpace(opts.Token),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryBase:  retryBaseDelay,
		http:       opts.HTTPClient,
		log:        zerolog.Nop(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.http == nil {
		// No client timeout: chat streams are bounded by their context.
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.Logger != nil {
		c.log = logging.Component(*opts.Logger, "advisor")
	}
	c.log.Debug().
		Str("base_url", c.baseURL).
		Str("token", logging.Fingerprint(c.token)).
		Msg("advisor client ready")
	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TokenFingerprint identifies the configured token without revealing it.
func (c *Client) TokenFingerprint() string {
	return logging.Fingerprint(c.token)
}

// Ping checks that the backend answers at all.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, "/", "", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", stream.ErrRequestFailed, err)
	}
	resp.Body.Close()
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path, contentType string, body []byte) (*http.Request, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// wait applies client-side pacing.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// postJSON sends body as JSON and decodes the reply into out.
func (c *Client) postJSON(ctx context.Context, path string, in, out any, retry bool) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, path, "application/json", body, out, retry)
}

// do performs a POST with the request timeout, retrying 5xx responses and
// transport errors when retry is set.
func (c *Client) do(ctx context.Context, path, contentType string, body []byte, out any, retry bool) error {
	attempts := 1
	if retry {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.log.Debug().Str("path", path).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, path, contentType, body, out)
		if err == nil || !isRetryable(ctx, err) {
			return err
		}
		lastErr = err
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, path, contentType string, body []byte, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend response")

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return &transportError{err: err}
	}
	if len(data) > MaxResponseSize {
		return fmt.Errorf("%w: response exceeded %d bytes", stream.ErrRequestFailed, MaxResponseSize)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return stream.NewStatusError(resp.StatusCode, data, resp.Header)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", stream.ErrRequestFailed, err)
	}
	return nil
}

// transportError is a failure to reach the backend at all.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s: %v", stream.ErrRequestFailed, e.err)
}

func (e *transportError) Unwrap() []error {
	return []error{stream.ErrRequestFailed, e.err}
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *stream.StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return false
}

// backoff returns the delay before the given retry attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryBase * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
