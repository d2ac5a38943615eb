// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
)

type streamRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

type chatRequest struct {
	Message string              `json:"message"`
	History []model.ChatMessage `json:"history"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// ChatStream posts messages to the streaming chat endpoint and assembles the
// reply. opts.OnUpdate fires once per increment. The returned error is the
// Result's Err: nil on completion, ErrCancelled on cancellation, and a
// StatusError or ErrRequestFailed on failure.
func (c *Client) ChatStream(ctx context.Context, messages []model.ChatMessage, opts stream.Options) (stream.Result, error) {
	if opts.Logger == nil {
		opts.Logger = &c.log
	}
	asm := stream.NewAssembler(opts)

	if err := c.wait(ctx); err != nil {
		if ctx.Err() != nil {
			asm.Cancel(ctx)
		} else {
			asm.Fail(fmt.Errorf("%w: %v", stream.ErrRequestFailed, err))
		}
		res := asm.Result()
		return res, res.Err
	}

	body, err := json.Marshal(streamRequest{Messages: messages})
	if err != nil {
		asm.Fail(err)
		return asm.Result(), err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", "application/json", body)
	if err != nil {
		asm.Fail(err)
		return asm.Result(), err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			asm.Cancel(ctx)
		} else {
			asm.Fail(fmt.Errorf("%w: %v", stream.ErrRequestFailed, err))
		}
		res := asm.Result()
		return res, res.Err
	}

	res := asm.ConsumeResponse(ctx, resp)
	ev := c.log.Debug()
	if res.Err != nil && !errors.Is(res.Err, stream.ErrCancelled) {
		ev = c.log.Warn().Str("class", stream.Classification(res.Err)).Err(res.Err)
	}
	ev.Str("state", res.State.String()).
		Int("increments", res.Stats.Increments).
		Int64("bytes", res.Stats.Bytes).
		Int("dropped", res.Stats.DroppedFrames).
		Msg("chat stream finished")
	return res, res.Err
}

// Chat sends one message with prior history to the non-streaming endpoint.
func (c *Client) Chat(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if history == nil {
		history = []model.ChatMessage{}
	}
	var out chatResponse
	if err := c.postJSON(ctx, "/api/chat", chatRequest{Message: message, History: history}, &out, false); err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	return out.Reply, nil
}
