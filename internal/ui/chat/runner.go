// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
)

// Streamer runs one chat stream. *advisor.Client implements it.
type Streamer interface {
	ChatStream(ctx context.Context, messages []model.ChatMessage, opts stream.Options) (stream.Result, error)
}

// =============================================================================
// STREAM MESSAGES
// =============================================================================

// StreamUpdateMsg carries a (possibly coalesced) update for stream ID.
type StreamUpdateMsg struct {
	ID     int
	Update stream.Update
}

// StreamDoneMsg carries the final result of stream ID.
type StreamDoneMsg struct {
	ID     int
	Result stream.Result
}

// flushTickMsg drives the throttle while a slow stream is quiet.
type flushTickMsg struct {
	ID int
}

func flushTick(id int, every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg { return flushTickMsg{ID: id} })
}

// startStream runs the stream on its own goroutine. Updates that the
// throttle releases are sent without blocking; if the UI is behind, one is
// dropped and the next snapshot supersedes it. The done message is always
// delivered, after which the channel is closed.
func startStream(ctx context.Context, s Streamer, id int, messages []model.ChatMessage, opts stream.Options, th *stream.RenderThrottle) <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	go func() {
		defer close(ch)
		opts.OnUpdate = func(u stream.Update) {
			if rel, ok := th.Offer(u); ok {
				select {
				case ch <- StreamUpdateMsg{ID: id, Update: rel}:
				default:
				}
			}
		}
		res, _ := s.ChatStream(ctx, messages, opts)
		ch <- StreamDoneMsg{ID: id, Result: res}
	}()
	return ch
}

// waitFor returns a command that delivers the next message from ch.
func waitFor(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// Settle applies a finished stream to conv. When the request failed before
// any reply arrived, the optimistic user turn is rolled back and its text
// returned so the caller can offer it again.
func Settle(conv *model.Conversation, res stream.Result) (retry string) {
	if res.State == stream.StateFailed && res.Content == "" {
		text, _ := conv.RollbackLastUser()
		return text
	}
	conv.SetLastContent(res.Content)
	conv.FinishLast()
	return ""
}
