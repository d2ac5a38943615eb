// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the DeepChat terminal UI.
//
// The model runs each reply through the stream assembler on a goroutine and
// receives its updates as Bubble Tea messages. A RenderThrottle coalesces
// updates so fast streams redraw at a bounded rate; the final Result always
// replaces whatever was shown.
//
// # Key Types
//
//   - Model: the Bubble Tea model (input, viewport, spinner)
//   - Streamer: what the model needs from the advisory client
//   - Options: translator, theme and stream settings
//
// # Keys
//
//	enter   send the question
//	esc     stop the current reply
//	tab     fill in the next quick suggestion
//	ctrl+l  clear the conversation
//	ctrl+c  quit
//
// # Usage
//
//	m := chat.New(chat.Options{Streamer: client, Translator: tr, Theme: theme})
//	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
package chat
