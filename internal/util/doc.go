// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the DeepAgro packages.
//
// # Key Functions
//
// Text layout (terminal cells, via go-runewidth):
//   - Width: display width of a string
//   - Truncate: width-aware truncation with an ellipsis
//   - Pad: right-pad to a fixed width for table columns
//   - TruncateRunes: rune-safe truncation for log and title fields
//
// Files:
//   - AtomicWriteFile: crash-safe write (temp file, fsync, rename)
package util
