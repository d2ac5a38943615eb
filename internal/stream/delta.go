// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"fmt"
)

// Delta is the content increment carried by one data frame. Content is empty
// for control frames (role announcement, finish_reason, usage).
type Delta struct {
	Content      string
	FinishReason string
}

// Empty reports whether the delta adds nothing to the message.
func (d Delta) Empty() bool {
	return d.Content == ""
}

// chunkPayload is the OpenAI-style streaming chunk.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ExtractDelta parses a data payload. Only a payload that is not valid JSON
// yields ErrMalformedFrame. Valid JSON of any other shape (no choices, no
// content, a bare number, mistyped fields) yields an empty Delta and no error.
func ExtractDelta(payload string) (Delta, error) {
	raw := []byte(payload)
	if !json.Valid(raw) {
		return Delta{}, fmt.Errorf("%w: invalid JSON (%d bytes)", ErrMalformedFrame, len(raw))
	}
	var chunk chunkPayload
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Delta{}, nil
	}
	if len(chunk.Choices) == 0 {
		return Delta{}, nil
	}
	c := chunk.Choices[0]
	d := Delta{Content: c.Delta.Content}
	if c.FinishReason != nil {
		d.FinishReason = *c.FinishReason
	}
	return d, nil
}
