// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/util"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return m.tr.T("loading")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderSuggestions(),
		m.renderStatus(),
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render(m.tr.T("assistant_title"))
	meta := m.theme.HeaderMeta.Render(" " + m.tr.T("assistant_subtitle"))
	return m.theme.Header.Width(m.width).Render(title + meta)
}

func (m *Model) renderMessages() string {
	width := m.theme.BubbleWidth()
	var b strings.Builder
	for i, msg := range m.conv.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.theme.RoleLabel.Render(msg.Role.DisplayName()))
		b.WriteString("\n")

		switch {
		case msg.Role == model.RoleUser:
			b.WriteString(m.theme.UserBubble.Width(width).Render(msg.Content))
		case msg.Greeting:
			b.WriteString(m.theme.Greeting.Width(width).Render(msg.Content))
		case msg.IsStreaming:
			content := msg.Content
			if content == "" {
				content = m.spinner.View() + " " + m.tr.T("assistant_typing")
			}
			b.WriteString(m.theme.AssistantBubble.Width(width).Render(content))
		default:
			b.WriteString(m.theme.AssistantBubble.Width(width).Render(m.renderMarkdown(msg)))
		}
	}
	return b.String()
}

// renderSuggestions lists the quick suggestions until the first question.
func (m Model) renderSuggestions() string {
	if m.hasUserTurn() {
		return ""
	}
	label := m.tr.T("assistant_quick_suggestions_label")
	parts := make([]string, 0, len(model.SuggestionKeys))
	for _, key := range model.SuggestionKeys {
		parts = append(parts, m.tr.T(key))
	}
	// Truncate before styling so escape codes are never cut.
	rest := util.Truncate(strings.Join(parts, " · "), m.width-util.Width(label)-1)
	return m.theme.SuggestionKey.Render(label) + " " + m.theme.Suggestion.Render(rest)
}

func (m Model) renderStatus() string {
	var left string
	switch {
	case m.Streaming():
		left = m.spinner.View() + " " + m.theme.StatusState.Render(m.tr.T("assistant_typing"))
	case m.errText != "":
		left = m.theme.StatusError.Render(m.errText)
	case m.notice != "":
		left = m.theme.StatusState.Render(m.notice)
	}

	keys := []struct{ key, desc string }{
		{"enter", "send"},
		{"esc", "stop"},
		{"tab", "suggest"},
		{"ctrl+c", "quit"},
	}
	var help []string
	for _, k := range keys {
		help = append(help, fmt.Sprintf("%s %s", m.theme.ShortcutKey.Render(k.key), m.theme.ShortcutDesc.Render(k.desc)))
	}
	right := strings.Join(help, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		return m.theme.StatusBar.Render(left)
	}
	return m.theme.StatusBar.Render(left + strings.Repeat(" ", gap) + right)
}
