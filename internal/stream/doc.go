// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream assembles streamed chat completions into a single message.
//
// The advisor backend answers chat requests with a newline-delimited event
// stream in the OpenAI "data: {json}" format, terminated by "data: [DONE]".
// This package turns that byte stream into a growing assistant message in
// three independent stages:
//
//   - Decoder: bytes to complete lines. Carries multi-byte UTF-8 sequences
//     that are split across chunk boundaries and strips trailing CR.
//   - Classify / ExtractDelta: one line to a Frame, one data payload to the
//     content increment it carries.
//   - Assembler: applies increments to the message and drives the state
//     machine Idle -> Streaming -> Completed | Failed | Cancelled.
//
// # Key Types
//
//   - Decoder: incremental line splitter over raw chunks
//   - Frame: a classified line (comment, empty, data, done, other)
//   - Assembler: per-request state machine and message owner
//   - Result: terminal content, state and error classification
//   - RenderThrottle: optional coalescing of updates for slow renderers
//
// # Usage
//
//	asm := stream.NewAssembler(stream.Options{
//	    OnUpdate: func(u stream.Update) { render(u.Content) },
//	})
//	res := asm.ConsumeResponse(ctx, resp)
//	if res.Err != nil {
//	    // errors.Is(res.Err, stream.ErrRateLimited) etc.
//	}
//
// Each request must use its own Assembler. An Assembler is not safe for
// concurrent Consume calls, but Content, State and Result may be read from
// other goroutines while a stream is running.
package stream
