// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of an Assembler.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// OPTIONS AND RESULTS
// =============================================================================

const (
	readChunkSize = 32 * 1024
	maxErrorBody  = 64 * 1024
)

// Update is delivered once per accepted content increment.
type Update struct {
	Delta   string // the increment just appended
	Content string // the whole message so far
	Seq     int    // 1-based increment counter
}

// Options configures an Assembler.
type Options struct {
	// OnUpdate is called synchronously on the consuming goroutine after each
	// increment. It must not block for long. The context is checked right
	// before each call, so no update is delivered once cancellation is
	// visible; a cancel that lands while a call is running only stops the
	// next one.
	OnUpdate func(Update)

	// KeepPartialOnCancel retains the content received so far when the
	// stream is cancelled. By default it is discarded.
	KeepPartialOnCancel bool

	// MaxPendingBytes caps buffered, unprocessed text. Zero means
	// DefaultMaxPendingBytes.
	MaxPendingBytes int

	// Logger receives debug output about dropped frames. Nil disables it.
	Logger *zerolog.Logger
}

// Stats counts what happened during a stream.
type Stats struct {
	Chunks        int
	Bytes         int64
	Increments    int
	DroppedFrames int
}

// Result is the outcome of a stream.
type Result struct {
	Content string
	State   State
	Err     error
	Stats   Stats
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler owns one streamed assistant message.
type Assembler struct {
	opts       Options
	log        zerolog.Logger
	maxPending int
	dec        *Decoder

	// held is set while a malformed data line sits at the head of the
	// decoder buffer waiting for a continuation line.
	held bool

	mu      sync.RWMutex
	state   State
	content strings.Builder
	err     error
	stats   Stats
}

// NewAssembler creates an idle Assembler.
func NewAssembler(opts Options) *Assembler {
	a := &Assembler{
		opts:       opts,
		log:        zerolog.Nop(),
		maxPending: opts.MaxPendingBytes,
		dec:        NewDecoder(),
	}
	if opts.Logger != nil {
		a.log = opts.Logger.With().Str("component", "stream").Logger()
	}
	if a.maxPending <= 0 {
		a.maxPending = DefaultMaxPendingBytes
	}
	return a
}

// State returns the current state.
func (a *Assembler) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Content returns the message assembled so far.
func (a *Assembler) Content() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.content.String()
}

// Stats returns a snapshot of the stream counters.
func (a *Assembler) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Result returns the current outcome. It is final once State().Terminal().
func (a *Assembler) Result() Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Result{
		Content: a.content.String(),
		State:   a.state,
		Err:     a.err,
		Stats:   a.stats,
	}
}

// ConsumeResponse validates resp and consumes its body. Non-2xx statuses and
// a nil body fail the assembler without entering StateStreaming. An empty
// body completes with an empty message. The body is always closed, and is
// closed early if ctx is cancelled so that a blocked read returns promptly.
func (a *Assembler) ConsumeResponse(ctx context.Context, resp *http.Response) Result {
	if resp == nil || resp.Body == nil {
		a.Fail(fmt.Errorf("%w: response has no body", ErrRequestFailed))
		return a.Result()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.Fail(NewStatusError(resp.StatusCode, body, resp.Header))
		return a.Result()
	}

	stop := context.AfterFunc(ctx, func() {
		resp.Body.Close()
	})
	defer stop()

	return a.Consume(ctx, resp.Body)
}

// Consume reads r to completion, cancellation or failure.
func (a *Assembler) Consume(ctx context.Context, r io.Reader) Result {
	if r == nil {
		a.Fail(fmt.Errorf("%w: response has no body", ErrRequestFailed))
		return a.Result()
	}

	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			a.cancel(ctx)
			return a.Result()
		}

		n, err := r.Read(buf)
		if n > 0 {
			if a.Feed(ctx, buf[:n]) {
				return a.Result()
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				// A body closed by cancellation may also read as EOF.
				a.cancel(ctx)
			} else if errors.Is(err, io.EOF) {
				a.Finish(ctx)
			} else {
				a.Fail(fmt.Errorf("%w: reading stream: %v", ErrRequestFailed, err))
			}
			return a.Result()
		}
	}
}

// Feed processes one raw chunk. It returns true once the assembler has
// reached a terminal state and no more input should be fed.
func (a *Assembler) Feed(ctx context.Context, chunk []byte) bool {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return true
	}
	a.state = StateStreaming
	a.stats.Chunks++
	a.stats.Bytes += int64(len(chunk))
	a.mu.Unlock()

	a.dec.Write(chunk)
	if a.process(ctx, a.dec, false) {
		return true
	}

	if a.dec.Overflowed(a.maxPending) {
		a.log.Debug().Int("bytes", a.dec.Buffered()).Msg("pending buffer over limit, discarding")
		a.dec.Reset()
		a.held = false
		a.mu.Lock()
		a.stats.DroppedFrames++
		a.mu.Unlock()
	}
	return false
}

// Finish handles end of input: the decoder is flushed, the remaining lines
// are processed once, and anything still malformed is dropped. A stream
// that ends without a termination frame still completes.
func (a *Assembler) Finish(ctx context.Context) {
	if a.State().Terminal() {
		return
	}
	rest := &lineQueue{lines: a.dec.Finish()}
	if a.process(ctx, rest, true) {
		return
	}
	a.held = false
	a.transition(StateCompleted, nil)
}

// Fail moves the assembler to StateFailed with err. It is a no-op once the
// assembler is terminal.
func (a *Assembler) Fail(err error) {
	if err == nil {
		err = ErrRequestFailed
	}
	a.transition(StateFailed, err)
}

// Cancel moves the assembler to StateCancelled, recording ctx's cause. It is
// for callers that observe cancellation before any body exists.
func (a *Assembler) Cancel(ctx context.Context) {
	a.cancel(ctx)
}

// =============================================================================
// FRAME PROCESSING
// =============================================================================

// lineSource is the line buffer the processor pulls from and pushes back to.
type lineSource interface {
	Next() (string, bool)
	Unread(line string)
}

// lineQueue is the fixed set of lines left over at end of stream.
type lineQueue struct {
	lines []string
}

func (q *lineQueue) Next() (string, bool) {
	if len(q.lines) == 0 {
		return "", false
	}
	line := q.lines[0]
	q.lines = q.lines[1:]
	return line, true
}

func (q *lineQueue) Unread(line string) {
	q.lines = append([]string{line}, q.lines...)
}

// process drains complete lines from src. It returns true when the stream
// reached a terminal state.
//
// A data line whose payload does not parse is pushed back and the batch
// stops. When input resumes, the held line is joined with the following
// line if that line continues the payload; if the following line starts a
// new frame the held line is dropped. At eof nothing is pushed back for
// later, so every line is settled in this call.
func (a *Assembler) process(ctx context.Context, src lineSource, eof bool) bool {
	for {
		line, ok := src.Next()
		if !ok {
			return false
		}

		if a.held {
			a.held = false
			next, ok := src.Next()
			switch {
			case !ok && !eof:
				src.Unread(line)
				a.held = true
				return false
			case !ok:
				a.drop(line)
				return false
			case startsFrame(next):
				a.drop(line)
				line = next
			default:
				line += next
			}
		}

		frame := Classify(line)
		switch frame.Kind {
		case FrameDone:
			a.transition(StateCompleted, nil)
			return true

		case FrameData:
			delta, err := ExtractDelta(frame.Payload)
			if err != nil {
				if len(line) > a.maxPending {
					a.drop(line)
					continue
				}
				src.Unread(line)
				a.held = true
				if !eof {
					return false
				}
				continue
			}
			if delta.Content != "" && !a.emit(ctx, delta.Content) {
				return true
			}
		}
	}
}

// emit appends one increment and notifies the observer. It returns false if
// the stream was cancelled or is already terminal.
func (a *Assembler) emit(ctx context.Context, text string) bool {
	if ctx.Err() != nil {
		a.cancel(ctx)
		return false
	}

	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return false
	}
	a.content.WriteString(text)
	a.stats.Increments++
	u := Update{Delta: text, Content: a.content.String(), Seq: a.stats.Increments}
	a.mu.Unlock()

	if ctx.Err() != nil {
		a.cancel(ctx)
		return false
	}
	if a.opts.OnUpdate != nil {
		a.opts.OnUpdate(u)
	}
	return true
}

func (a *Assembler) drop(line string) {
	a.mu.Lock()
	a.stats.DroppedFrames++
	a.mu.Unlock()
	a.log.Debug().Int("bytes", len(line)).Msg("dropping malformed frame")
}

func (a *Assembler) cancel(ctx context.Context) {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	a.transition(StateCancelled, fmt.Errorf("%w: %v", ErrCancelled, cause))
}

// transition moves to a terminal state. Terminal states are absorbing.
func (a *Assembler) transition(to State, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Terminal() {
		return
	}
	a.state = to
	a.err = err
	if to == StateCancelled && !a.opts.KeepPartialOnCancel {
		a.content.Reset()
	}
	a.log.Debug().
		Str("state", to.String()).
		Int("increments", a.stats.Increments).
		Int("dropped", a.stats.DroppedFrames).
		Msg("stream finished")
}
