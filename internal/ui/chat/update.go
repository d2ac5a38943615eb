// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamUpdateMsg:
		if msg.ID != m.streamID || !m.Streaming() {
			return m, nil
		}
		m.conv.SetLastContent(msg.Update.Content)
		m.refresh()
		return m, waitFor(m.events)

	case StreamDoneMsg:
		if msg.ID != m.streamID || !m.Streaming() {
			return m, nil
		}
		return m.finish(msg.Result), nil

	case flushTickMsg:
		if msg.ID != m.streamID || !m.Streaming() {
			return m, nil
		}
		if u, ok := m.throttle.Flush(); ok {
			m.conv.SetLastContent(u.Content)
			m.refresh()
		}
		return m, flushTick(m.streamID, m.interval)

	case spinner.TickMsg:
		if !m.Streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.cancelMgr.cancel()
		return m, tea.Quit

	case "esc":
		// The done message arrives once the stream has wound down.
		m.cancelMgr.cancel()
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.Streaming() {
			return m, nil
		}
		return m.submit(text)

	case "tab":
		if m.Streaming() {
			return m, nil
		}
		return m.nextSuggestion(), nil

	case "ctrl+l":
		if m.Streaming() {
			return m, nil
		}
		m.conv.Clear()
		m.conv.AddWelcome(m.tr.T("assistant_initial_message"))
		m.rendered = make(map[string]string)
		m.errText, m.notice = "", ""
		m.refresh()
		return m, nil

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
