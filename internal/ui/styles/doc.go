// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles is the DeepAgro terminal palette and lipgloss theme.
//
// Colors are lipgloss.AdaptiveColor values so they follow the terminal
// background. NewTheme("auto") detects the background with termenv.
package styles
