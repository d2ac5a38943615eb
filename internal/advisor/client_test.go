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
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL + "/", Token: "test-token", Timeout: 5 * time.Second})
	c.retryBase = time.Millisecond
	return c, srv
}

func sseFrame(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]string{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

// =============================================================================
// CHAT STREAM
// =============================================================================

func TestChatStreamAssemblesReply(t *testing.T) {
	var got streamRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/stream", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{": ping\n\n", sseFrame("Rice "), sseFrame("grows "), sseFrame("well."), "data: [DONE]\n\n"} {
			io.WriteString(w, part)
			flusher.Flush()
		}
	})

	conv := model.NewConversation("You are an agronomist.")
	conv.AddUser("What grows in clay soil?")

	var deltas []string
	res, err := c.ChatStream(context.Background(), conv.History(), stream.Options{
		OnUpdate: func(u stream.Update) { deltas = append(deltas, u.Delta) },
	})
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, res.State)
	assert.Equal(t, "Rice grows well.", res.Content)
	assert.Equal(t, []string{"Rice ", "grows ", "well."}, deltas)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "What grows in clay soil?", got.Messages[1].Content)
}

func TestChatStreamStatusErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, stream.ErrRateLimited},
		{http.StatusPaymentRequired, stream.ErrQuotaExceeded},
		{http.StatusInternalServerError, stream.ErrRequestFailed},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":"slow down"}`)
			})

			updates := 0
			res, err := c.ChatStream(context.Background(), nil, stream.Options{
				OnUpdate: func(stream.Update) { updates++ },
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, stream.StateFailed, res.State)
			assert.Empty(t, res.Content)
			assert.Zero(t, updates)
			assert.Equal(t, int32(1), calls.Load())

			var se *stream.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "slow down", se.Message)
		})
	}
}

func TestChatStreamCancelledBeforeRequest(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.ChatStream(ctx, nil, stream.Options{})
	assert.ErrorIs(t, err, stream.ErrCancelled)
	assert.Equal(t, stream.StateCancelled, res.State)
	assert.Zero(t, calls.Load())
}

func TestChatStreamUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url})
	res, err := c.ChatStream(context.Background(), nil, stream.Options{})
	assert.ErrorIs(t, err, stream.ErrRequestFailed)
	assert.Equal(t, stream.StateFailed, res.State)
}

func TestChat(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Message)
		assert.NotNil(t, req.History)
		json.NewEncoder(w).Encode(chatResponse{Reply: "Namaste!"})
	})

	reply, err := c.Chat(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Namaste!", reply)
}

// =============================================================================
// PREDICTIONS
// =============================================================================

var validCrop = CropInput{N: 90, P: 42, K: 43, Temperature: 20.8, Humidity: 82, PH: 6.5, Rainfall: 202.9}

func TestCropInputValidate(t *testing.T) {
	assert.NoError(t, validCrop.Validate())

	bad := validCrop
	bad.N = 250
	bad.PH = 15
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "N: must be between 0 and 200")
	assert.Contains(t, err.Error(), "ph: must be between 0 and 14")

	bad = validCrop
	bad.Rainfall = -1
	assert.ErrorContains(t, bad.Validate(), "rainfall: must be at least 0")
}

func TestFertilizerInputValidate(t *testing.T) {
	in := FertilizerInput{Temperature: 26, Humidity: 52, Moisture: 38, N: 37, P: 0, K: 0, PH: 6.8}
	assert.NoError(t, in.Validate())

	in.Moisture = 101
	assert.ErrorIs(t, in.Validate(), ErrInvalidInput)
}

func TestPredictCrop(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/crop", r.URL.Path)
		var in CropInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, validCrop, in)
		io.WriteString(w, `{"crop":"rice","top3":[{"crop":"rice","confidence":0.91},{"crop":"jute","confidence":0.05}]}`)
	})

	p, err := c.PredictCrop(context.Background(), validCrop)
	require.NoError(t, err)
	assert.Equal(t, "rice", p.Crop)
	assert.Len(t, p.Top3, 2)
	assert.Equal(t, 0.91, p.Confidence())
}

func TestPredictCropRejectsInvalidInputWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := c.PredictCrop(context.Background(), CropInput{Humidity: 120})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, calls.Load())
}

func TestPredictionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"fertilizer":"Urea"}`)
	})

	p, err := c.PredictFertilizer(context.Background(), FertilizerInput{Humidity: 50, Moisture: 40, PH: 7})
	require.NoError(t, err)
	assert.Equal(t, "Urea", p.Fertilizer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPredictionGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.PredictCrop(context.Background(), validCrop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.ErrorIs(t, err, stream.ErrRequestFailed)
	assert.Equal(t, int32(DefaultMaxRetries), calls.Load())
}

func TestPredictionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.PredictCrop(context.Background(), validCrop)
	assert.ErrorIs(t, err, stream.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

// =============================================================================
// DISEASE DETECTION
// =============================================================================

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDetectDisease(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/disease", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "leaf.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngHeader, data)
		io.WriteString(w, `{"disease":"Tomato Early Blight","confidence":0.87}`)
	})

	res, err := c.DetectDisease(context.Background(), "/photos/leaf.png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "Tomato Early Blight", res.Disease)
	assert.Equal(t, 0.87, res.Confidence)
}

func TestReadImage(t *testing.T) {
	_, ct, err := ReadImage(bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, _, err = ReadImage(strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = ReadImage(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidInput)

	big := io.MultiReader(bytes.NewReader(pngHeader), bytes.NewReader(make([]byte, MaxImageSize)))
	_, _, err = ReadImage(big)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// =============================================================================
// CLIENT
// =============================================================================

func TestOptionsFromConfigAndDefaults(t *testing.T) {
	cfg := config.Default()
	c := New(OptionsFromConfig(cfg.API))

	assert.Equal(t, "http://localhost:5000", c.BaseURL())
	assert.Equal(t, 30*time.Second, c.timeout)
	assert.Equal(t, 3, c.maxRetries)
	require.NotNil(t, c.limiter)
	assert.Equal(t, 10, c.limiter.Burst())
	assert.Equal(t, "none", c.TokenFingerprint())

	c = New(Options{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Nil(t, c.limiter)
}

func TestBackoff(t *testing.T) {
	c := New(Options{})
	for attempt, want := range map[int]time.Duration{
		1: 500 * time.Millisecond,
		2: time.Second,
		3: 2 * time.Second,
		10: retryMaxDelay,
	} {
		assert.Equal(t, want, c.backoff(attempt), fmt.Sprint(attempt))
	}
}
