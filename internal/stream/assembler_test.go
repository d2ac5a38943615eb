// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

// frame renders one SSE data frame carrying content.
func frame(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"delta": map[string]any{"content": content}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

const doneFrame = "data: [DONE]\n\n"

// chunkReader returns one chunk per Read, then io.EOF.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// recorder collects updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) record(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Delta
	}
	return out
}

func consumeChunks(t *testing.T, chunks ...string) (Result, *recorder) {
	t.Helper()
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})
	res := asm.Consume(context.Background(), &chunkReader{chunks: chunks})
	return res, rec
}

// trackingBody wraps a reader and records Close.
type trackingBody struct {
	io.Reader
	closed atomic.Bool
	onClose func()
}

func (b *trackingBody) Close() error {
	if b.closed.CompareAndSwap(false, true) && b.onClose != nil {
		b.onClose()
	}
	return nil
}

// =============================================================================
// ASSEMBLY
// =============================================================================

func TestAssemblerHelloScenario(t *testing.T) {
	res, rec := consumeChunks(t, frame("Hel"), frame("lo"), doneFrame)

	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, StateCompleted, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"Hel", "lo"}, rec.deltas())

	require.Len(t, rec.updates, 2)
	assert.Equal(t, "Hel", rec.updates[0].Content)
	assert.Equal(t, 1, rec.updates[0].Seq)
	assert.Equal(t, "Hello", rec.updates[1].Content)
	assert.Equal(t, 2, rec.updates[1].Seq)
}

func TestAssemblerChunkBoundaryInvariance(t *testing.T) {
	body := ": connected\n\n" +
		frame("Sow ") +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\r\n\r\n" +
		frame("wheat in ") +
		frame("Rabi 🌾, ") +
		frame("నీరు ") +
		frame("एक बार।") +
		doneFrame
	want := "Sow wheat in Rabi 🌾, నీరు एक बार।"

	whole, _ := consumeChunks(t, body)
	require.Equal(t, want, whole.Content)
	require.Equal(t, StateCompleted, whole.State)

	for i := 1; i < len(body); i++ {
		res, rec := consumeChunks(t, body[:i], body[i:])
		if res.Content != want || res.State != StateCompleted {
			t.Fatalf("split at %d: got %q (%s)", i, res.Content, res.State)
		}
		if len(rec.updates) != 5 {
			t.Fatalf("split at %d: got %d updates, want 5", i, len(rec.updates))
		}
	}

	asm := NewAssembler(Options{})
	res := asm.Consume(context.Background(), iotest.OneByteReader(strings.NewReader(body)))
	assert.Equal(t, want, res.Content)
	assert.Equal(t, 5, res.Stats.Increments)
}

func TestAssemblerSplitMultiByteCharacter(t *testing.T) {
	body := frame("ಕನ್ನಡ") + doneFrame
	idx := strings.Index(body, "ಕ") + 1 // inside the 3-byte sequence

	res, rec := consumeChunks(t, body[:idx], body[idx:])
	assert.Equal(t, "ಕನ್ನಡ", res.Content)
	assert.NotContains(t, res.Content, "�")
	assert.Len(t, rec.updates, 1)
}

func TestAssemblerTruncatedPayloadContributesOnce(t *testing.T) {
	res, rec := consumeChunks(t,
		`data: {"choices":[{"delta":{"content":"Hel`,
		`lo"}}]}`+"\n\n",
		doneFrame,
	)

	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, []string{"Hello"}, rec.deltas())
	assert.Zero(t, res.Stats.DroppedFrames)
}

func TestAssemblerDoneStopsBatch(t *testing.T) {
	res, rec := consumeChunks(t, frame("A")+doneFrame+frame("B")+frame("C"))

	assert.Equal(t, "A", res.Content)
	assert.Equal(t, StateCompleted, res.State)
	assert.Len(t, rec.updates, 1)
}

func TestAssemblerSkipsUnexpectedJSONShapes(t *testing.T) {
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})

	chunk := "data: 42\n" + `data: {"choices":{}}` + "\n" + frame("Hi") + doneFrame
	require.True(t, asm.Feed(context.Background(), []byte(chunk)))

	res := asm.Result()
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Hi", res.Content)
	assert.Equal(t, []string{"Hi"}, rec.deltas())
	assert.Zero(t, res.Stats.DroppedFrames)
}

func TestAssemblerIgnoresDataAfterDone(t *testing.T) {
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})
	ctx := context.Background()

	assert.False(t, asm.Feed(ctx, []byte(frame("A"))))
	assert.True(t, asm.Feed(ctx, []byte(doneFrame)))
	assert.True(t, asm.Feed(ctx, []byte(frame("B"))))

	assert.Equal(t, "A", asm.Content())
	assert.Len(t, rec.updates, 1)
}

func TestAssemblerSkipsControlAndCommentFrames(t *testing.T) {
	res, rec := consumeChunks(t,
		": ping\n\n",
		"event: message\nid: 7\n",
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n",
		frame("ok"),
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n",
		doneFrame,
	)

	assert.Equal(t, "ok", res.Content)
	assert.Len(t, rec.updates, 1)
}

func TestAssemblerEndOfStreamWithoutDone(t *testing.T) {
	res, _ := consumeChunks(t, frame("no "), strings.TrimSuffix(frame("sentinel"), "\n\n"))

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "no sentinel", res.Content)
}

func TestAssemblerEmptyBodyCompletes(t *testing.T) {
	asm := NewAssembler(Options{})
	res := asm.Consume(context.Background(), strings.NewReader(""))

	assert.Equal(t, StateCompleted, res.State)
	assert.Empty(t, res.Content)
	assert.Zero(t, res.Stats.Chunks)
}

// =============================================================================
// MALFORMED FRAMES
// =============================================================================

func TestAssemblerJoinsPayloadSplitByNewline(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":\n" +
		"{\"content\":\"Hi\"}}]}\n\n" +
		doneFrame

	for _, chunks := range [][]string{
		{body},
		{body[:20], body[20:]},
		{"data: {\"choices\":[{\"delta\":\n", "{\"content\":\"Hi\"}}]}\n\n", doneFrame},
	} {
		res, rec := consumeChunks(t, chunks...)
		assert.Equal(t, "Hi", res.Content)
		assert.Len(t, rec.updates, 1)
		assert.Zero(t, res.Stats.DroppedFrames)
		assert.Equal(t, StateCompleted, res.State)
	}
}

func TestAssemblerHeldLineWaitsForNextLine(t *testing.T) {
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})
	ctx := context.Background()

	asm.Feed(ctx, []byte("data: {\"choices\":[{\"delta\":\n"))
	assert.Empty(t, rec.updates)
	asm.Feed(ctx, []byte("{\"content\":\"late\"}}]}"))
	assert.Empty(t, rec.updates)
	asm.Feed(ctx, []byte("\n\n"))

	assert.Equal(t, "late", asm.Content())
	assert.Equal(t, StateStreaming, asm.State())
}

func TestAssemblerDropsMalformedBeforeNewFrame(t *testing.T) {
	res, rec := consumeChunks(t, "data: {broken\n\n"+frame("Hi")+doneFrame)

	assert.Equal(t, "Hi", res.Content)
	assert.Len(t, rec.updates, 1)
	assert.Equal(t, 1, res.Stats.DroppedFrames)
}

func TestAssemblerDropsMalformedTrailingFrame(t *testing.T) {
	res, _ := consumeChunks(t, frame("Hi"), `data: {"choi`)

	assert.Equal(t, StateCompleted, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Hi", res.Content)
	assert.Equal(t, 1, res.Stats.DroppedFrames)
}

func TestAssemblerPendingLimit(t *testing.T) {
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record, MaxPendingBytes: 64})
	ctx := context.Background()

	asm.Feed(ctx, []byte("data: "+strings.Repeat("x", 100)))
	assert.Equal(t, 1, asm.Stats().DroppedFrames)

	asm.Feed(ctx, []byte("\n"+frame("after")))
	assert.Equal(t, "after", asm.Content())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestAssemblerRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)

	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})
	res := asm.ConsumeResponse(context.Background(), resp)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, ErrRateLimited))
	assert.Empty(t, res.Content)
	assert.Empty(t, rec.updates)
	assert.Zero(t, res.Stats.Chunks)

	var se *StatusError
	require.True(t, errors.As(res.Err, &se))
	assert.Equal(t, "slow down", se.Message)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
}

func TestAssemblerStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusPaymentRequired, ErrQuotaExceeded},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrRequestFailed},
		{http.StatusUnauthorized, ErrRequestFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			body := &trackingBody{Reader: strings.NewReader(`{"error":{"code":"x","message":"m"}}`)}
			asm := NewAssembler(Options{})
			res := asm.ConsumeResponse(context.Background(), &http.Response{StatusCode: tt.status, Body: body})

			assert.Equal(t, StateFailed, res.State)
			assert.True(t, errors.Is(res.Err, tt.want), "got %v", res.Err)
			assert.True(t, body.closed.Load())
		})
	}
}

func TestAssemblerMissingBody(t *testing.T) {
	asm := NewAssembler(Options{})
	res := asm.ConsumeResponse(context.Background(), &http.Response{StatusCode: http.StatusOK})

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, ErrRequestFailed))

	asm = NewAssembler(Options{})
	res = asm.ConsumeResponse(context.Background(), nil)
	assert.Equal(t, StateFailed, res.State)
}

func TestAssemblerReadErrorKeepsPartial(t *testing.T) {
	r := io.MultiReader(strings.NewReader(frame("Hel")), iotest.ErrReader(errors.New("connection reset")))
	asm := NewAssembler(Options{})
	res := asm.Consume(context.Background(), r)

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errors.Is(res.Err, ErrRequestFailed))
	assert.Contains(t, res.Err.Error(), "connection reset")
	assert.Equal(t, "Hel", res.Content)
}

func TestAssemblerTerminalStatesAbsorb(t *testing.T) {
	res, _ := consumeChunks(t, frame("x"), doneFrame)
	require.Equal(t, StateCompleted, res.State)

	asm := NewAssembler(Options{})
	asm.Consume(context.Background(), strings.NewReader(frame("x")+doneFrame))
	asm.Fail(errors.New("late"))

	assert.Equal(t, StateCompleted, asm.State())
	assert.NoError(t, asm.Result().Err)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestAssemblerCancelMidStream(t *testing.T) {
	pr, pw := io.Pipe()
	body := &trackingBody{Reader: pr, onClose: func() { pr.Close() }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var updates atomic.Int32
	first := make(chan struct{})
	asm := NewAssembler(Options{OnUpdate: func(u Update) {
		if updates.Add(1) == 1 {
			close(first)
		}
	}})

	go func() {
		pw.Write([]byte(frame("Hel")))
		<-first
		cancel()
		// The reader is gone; this write must fail rather than be applied.
		pw.Write([]byte(frame("lo")))
		pw.Close()
	}()

	done := make(chan Result, 1)
	go func() {
		done <- asm.ConsumeResponse(ctx, &http.Response{StatusCode: http.StatusOK, Body: body})
	}()

	select {
	case res := <-done:
		assert.Equal(t, StateCancelled, res.State)
		assert.True(t, errors.Is(res.Err, ErrCancelled))
		assert.Empty(t, res.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("assembler did not return after cancellation")
	}

	assert.Equal(t, int32(1), updates.Load())
	assert.True(t, body.closed.Load())
}

func TestAssemblerCancelKeepsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	asm := NewAssembler(Options{
		KeepPartialOnCancel: true,
		OnUpdate: func(u Update) {
			if u.Seq == 1 {
				cancel()
			}
		},
	})
	res := asm.Consume(ctx, &chunkReader{chunks: []string{frame("Hel"), frame("lo"), doneFrame}})

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, "Hel", res.Content)
	assert.Equal(t, 1, res.Stats.Increments)
}

func TestAssemblerCancelledWithinBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n int
	asm := NewAssembler(Options{OnUpdate: func(Update) {
		n++
		cancel()
	}})
	res := asm.Consume(ctx, bytes.NewReader([]byte(frame("a")+frame("b")+frame("c"))))

	assert.Equal(t, 1, n)
	assert.Equal(t, StateCancelled, res.State)
}

// lateCancelCtx reports cancellation from the n+1th Err call on, which
// simulates a cancel landing while an increment is being applied.
type lateCancelCtx struct {
	context.Context
	calls atomic.Int32
	after int32
}

func (c *lateCancelCtx) Err() error {
	if c.calls.Add(1) > c.after {
		return context.Canceled
	}
	return nil
}

func TestAssemblerNoUpdateAfterLateCancel(t *testing.T) {
	ctx := &lateCancelCtx{Context: context.Background(), after: 1}
	rec := &recorder{}
	asm := NewAssembler(Options{OnUpdate: rec.record})

	assert.True(t, asm.Feed(ctx, []byte(frame("Hi"))))

	res := asm.Result()
	assert.Equal(t, StateCancelled, res.State)
	assert.True(t, errors.Is(res.Err, ErrCancelled))
	assert.Empty(t, res.Content)
	assert.Empty(t, rec.deltas())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestNewStatusError(t *testing.T) {
	se := NewStatusError(http.StatusPaymentRequired, []byte(`{"error":{"code":"credits","message":"top up"}}`), nil)
	assert.Equal(t, "credits", se.Code)
	assert.Equal(t, "top up", se.Message)
	assert.Contains(t, se.Error(), "402")

	se = NewStatusError(http.StatusBadGateway, []byte("upstream down"), nil)
	assert.Equal(t, "upstream down", se.Message)

	se = NewStatusError(http.StatusInternalServerError, nil, nil)
	assert.Contains(t, se.Error(), "Internal Server Error")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("soon"))

	date := time.Now().Add(45 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(date)
	assert.Greater(t, d, 30*time.Second)
	assert.LessOrEqual(t, d, 45*time.Second)
}

func TestClassification(t *testing.T) {
	assert.Equal(t, "", Classification(nil))
	assert.Equal(t, "rate_limited", Classification(&StatusError{Status: 429}))
	assert.Equal(t, "quota_exceeded", Classification(&StatusError{Status: 402}))
	assert.Equal(t, "request_failed", Classification(&StatusError{Status: 500}))
	assert.Equal(t, "cancelled", Classification(ErrCancelled))
}
