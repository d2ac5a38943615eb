// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
)

const (
	// maxChatMessages bounds the history a client may send.
	maxChatMessages = model.MaxMessages
	wsWriteTimeout  = 10 * time.Second
	wsReadLimit     = maxBodySize
)

var validRoles = map[string]bool{
	string(model.RoleUser):      true,
	string(model.RoleAssistant): true,
	string(model.RoleSystem):    true,
}

type chatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// validateMessages checks roles and requires the last turn to be a
// non-empty user message.
func validateMessages(messages []model.ChatMessage) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(messages) > maxChatMessages {
		return fmt.Errorf("too many messages: %d (max %d)", len(messages), maxChatMessages)
	}
	for i, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role '%s' at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	last := messages[len(messages)-1]
	if last.Role != string(model.RoleUser) || strings.TrimSpace(last.Content) == "" {
		return errors.New("last message must be a non-empty user message")
	}
	return nil
}

// withSystemPrompt prepends the configured system prompt unless the client
// sent its own.
func (s *Server) withSystemPrompt(messages []model.ChatMessage) []model.ChatMessage {
	if s.opts.SystemPrompt == "" || messages[0].Role == string(model.RoleSystem) {
		return messages
	}
	out := make([]model.ChatMessage, 0, len(messages)+1)
	out = append(out, model.ChatMessage{Role: string(model.RoleSystem), Content: s.opts.SystemPrompt})
	return append(out, messages...)
}

func (s *Server) streamOptions(r *http.Request, onUpdate func(stream.Update)) stream.Options {
	return stream.Options{
		OnUpdate:            onUpdate,
		KeepPartialOnCancel: s.opts.KeepPartialOnCancel,
		MaxPendingBytes:     s.opts.MaxPendingBytes,
		Logger:              zerolog.Ctx(r.Context()),
	}
}

// recordChat stores a completed exchange for signed-in users.
func (s *Server) recordChat(r *http.Request, messages []model.ChatMessage, reply string) {
	s.recordHistory(r, advisor.ChatRecord(messages[len(messages)-1].Content, reply))
}

// ============================================================================
// Server-Sent Events
// ============================================================================

// chunk is one SSE frame in the same shape the backend streams, so clients
// can reuse one parser for both.
type chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Content string `json:"content,omitempty"`
}

// sseWriter delays the response headers until the first frame so that a
// failure before any content can still be reported with a proper status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	created int64
	started bool
	err     error
}

func (sw *sseWriter) start() {
	if sw.started {
		return
	}
	sw.started = true
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
}

func (sw *sseWriter) frame(event string, v any) {
	if sw.err != nil {
		return
	}
	sw.start()
	data, err := json.Marshal(v)
	if err != nil {
		sw.err = err
		return
	}
	if event != "" {
		_, sw.err = fmt.Fprintf(sw.w, "event: %s\n", event)
	}
	if sw.err == nil {
		_, sw.err = fmt.Fprintf(sw.w, "data: %s\n\n", data)
	}
	sw.flusher.Flush()
}

func (sw *sseWriter) delta(content string) {
	sw.frame("", chunk{
		ID:      sw.id,
		Object:  "chat.completion.chunk",
		Created: sw.created,
		Choices: []chunkChoice{{Delta: chunkDelta{Content: content}}},
	})
}

func (sw *sseWriter) done() {
	stop := "stop"
	sw.frame("", chunk{
		ID:      sw.id,
		Object:  "chat.completion.chunk",
		Created: sw.created,
		Choices: []chunkChoice{{FinishReason: &stop}},
	})
	if sw.err == nil {
		_, sw.err = fmt.Fprint(sw.w, "data: [DONE]\n\n")
		sw.flusher.Flush()
	}
}

// handleChatStream relays the backend chat stream to the client as SSE.
// Each accepted increment becomes one frame. A failure after content was
// sent is reported as an "error" event and the stream ends without [DONE].
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "Streaming not supported")
		return
	}

	sw := &sseWriter{
		w:       w,
		flusher: flusher,
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
	}
	res, _ := s.adv.ChatStream(r.Context(), s.withSystemPrompt(req.Messages),
		s.streamOptions(r, func(u stream.Update) { sw.delta(u.Delta) }))
	s.stats.recordStream(res.State)

	switch res.State {
	case stream.StateCompleted:
		s.recordChat(r, req.Messages, res.Content)
		sw.done()
	case stream.StateCancelled:
		zerolog.Ctx(r.Context()).Debug().Int("increments", res.Stats.Increments).Msg("chat stream cancelled by client")
	default:
		if !sw.started {
			s.writeUpstreamError(w, r, res.Err)
			return
		}
		sw.frame("error", apiError{Error: apiErrorDetail{
			Code:    stream.Classification(res.Err),
			Message: s.catalog.T(s.language(r), "error_"+stream.Classification(res.Err)),
		}})
	}
}

// ============================================================================
// WebSocket
// ============================================================================

// wsClientMessage is sent by the client: {"type":"chat","messages":[...]}
// starts a stream and {"type":"cancel"} stops the current one.
type wsClientMessage struct {
	Type     string              `json:"type"`
	Messages []model.ChatMessage `json:"messages,omitempty"`
}

// wsServerMessage is pushed to the client. Type is "delta", "done",
// "cancelled" or "error".
type wsServerMessage struct {
	Type    string `json:"type"`
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
	Seq     int    `json:"seq,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsConn serializes writes; only the handler goroutine writes.
type wsConn struct {
	conn *websocket.Conn
	err  error
}

func (c *wsConn) send(msg wsServerMessage) error {
	if c.err != nil {
		return c.err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	c.err = c.conn.WriteJSON(msg)
	return c.err
}

// activeStream holds the cancel func of the running stream, if any.
type activeStream struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (a *activeStream) set(cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
}

func (a *activeStream) stop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
}

// handleChatWebSocket runs chat streams over a websocket. Requests are
// handled one at a time; closing the socket cancels the running stream.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	log := zerolog.Ctx(r.Context())
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var active activeStream
	requests := make(chan wsClientMessage, 4)

	go func() {
		defer close(requests)
		defer cancel()
		for {
			var msg wsClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				var syntaxErr *json.SyntaxError
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
					continue
				}
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("websocket read ended")
				}
				active.stop()
				return
			}
			switch msg.Type {
			case "cancel":
				active.stop()
			case "chat":
				select {
				case requests <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	out := &wsConn{conn: conn}
	for msg := range requests {
		if err := validateMessages(msg.Messages); err != nil {
			if out.send(wsServerMessage{Type: "error", Code: "invalid_input", Message: err.Error()}) != nil {
				return
			}
			continue
		}
		if !s.runWebSocketStream(ctx, r, out, &active, msg.Messages) {
			return
		}
	}
}

// runWebSocketStream streams one reply. It returns false once the socket
// can no longer be written.
func (s *Server) runWebSocketStream(ctx context.Context, r *http.Request, out *wsConn, active *activeStream, messages []model.ChatMessage) bool {
	streamCtx, cancel := context.WithCancel(ctx)
	active.set(cancel)
	defer func() {
		active.set(nil)
		cancel()
	}()

	res, _ := s.adv.ChatStream(streamCtx, s.withSystemPrompt(messages),
		s.streamOptions(r, func(u stream.Update) {
			if out.send(wsServerMessage{Type: "delta", Delta: u.Delta, Seq: u.Seq}) != nil {
				cancel()
			}
		}))
	s.stats.recordStream(res.State)

	var final wsServerMessage
	switch res.State {
	case stream.StateCompleted:
		s.recordChat(r, messages, res.Content)
		final = wsServerMessage{Type: "done", Content: res.Content}
	case stream.StateCancelled:
		final = wsServerMessage{Type: "cancelled", Content: res.Content}
	default:
		class := stream.Classification(res.Err)
		final = wsServerMessage{
			Type:    "error",
			Code:    class,
			Message: s.catalog.T(s.language(r), "error_"+class),
		}
	}
	return out.send(final) == nil
}
