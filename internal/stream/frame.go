// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// FrameKind classifies a single line of the event stream.
type FrameKind int

const (
	// FrameEmpty is a blank line (event separator).
	FrameEmpty FrameKind = iota
	// FrameComment is a line starting with ':' (keep-alive).
	FrameComment
	// FrameOther is any non-data line (event:, id:, retry:, garbage).
	FrameOther
	// FrameData carries a JSON payload.
	FrameData
	// FrameDone is the "[DONE]" termination sentinel.
	FrameDone
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameEmpty:
		return "empty"
	case FrameComment:
		return "comment"
	case FrameOther:
		return "other"
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	default:
		return "unknown"
	}
}

// Frame is one classified line.
type Frame struct {
	Kind    FrameKind
	Payload string // set for FrameData only
}

// Ignorable reports whether the frame carries nothing for the assembler.
func (f Frame) Ignorable() bool {
	return f.Kind == FrameEmpty || f.Kind == FrameComment || f.Kind == FrameOther
}

// Classify turns one line (already stripped of its terminator and trailing
// CR) into a Frame.
func Classify(line string) Frame {
	switch {
	case line == "":
		return Frame{Kind: FrameEmpty}
	case strings.HasPrefix(line, ":"):
		return Frame{Kind: FrameComment}
	case !strings.HasPrefix(line, dataPrefix):
		return Frame{Kind: FrameOther}
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return Frame{Kind: FrameDone}
	}
	return Frame{Kind: FrameData, Payload: payload}
}

// startsFrame reports whether line begins a new frame of its own rather than
// continuing a payload that was split by a stray newline.
func startsFrame(line string) bool {
	return line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "data:")
}
