// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/i18n"
	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
	"github.com/jeranaias/deepagro/internal/ui/styles"
)

const (
	defaultMaxFPS    = 30
	defaultBatchSize = 15
	inputCharLimit   = 2000
)

// Options configures the chat model.
type Options struct {
	Streamer   Streamer
	Translator i18n.Translator
	Theme      *styles.Theme

	SystemPrompt        string
	KeepPartialOnCancel bool
	MaxPendingBytes     int
	// MaxFPS caps redraws while streaming. Zero means 30.
	MaxFPS int

	Logger *zerolog.Logger
}

// Model is the DeepChat Bubble Tea model.
type Model struct {
	opts  Options
	tr    i18n.Translator
	theme *styles.Theme
	conv  *model.Conversation

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	// rendered caches glamour output of finished messages by ID.
	rendered map[string]string

	cancelMgr *cancelManager
	throttle  *stream.RenderThrottle
	interval  time.Duration
	events    <-chan tea.Msg
	streamID  int

	state      stream.State
	errText    string
	notice     string
	suggestion int

	ready  bool
	width  int
	height int
}

// New creates the chat model with the localized greeting in place.
func New(opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme("auto")
	}
	if opts.Translator == (i18n.Translator{}) {
		opts.Translator = i18n.Default().For(i18n.Fallback)
	}
	fps := opts.MaxFPS
	if fps <= 0 {
		fps = defaultMaxFPS
	}

	in := textinput.New()
	in.Placeholder = opts.Translator.T("assistant_input_placeholder")
	in.CharLimit = inputCharLimit
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = opts.Theme.Spinner

	conv := model.NewConversation(opts.SystemPrompt)
	conv.AddWelcome(opts.Translator.T(model.WelcomeKey))

	return Model{
		opts:      opts,
		tr:        opts.Translator,
		theme:     opts.Theme,
		conv:      conv,
		input:     in,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		rendered:  make(map[string]string),
		cancelMgr: newCancelManager(),
		throttle:  stream.NewRenderThrottleWithConfig(defaultBatchSize, fps),
		interval:  time.Second / time.Duration(fps),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Conversation returns the model's conversation.
func (m Model) Conversation() *model.Conversation {
	return m.conv
}

// State returns the state of the latest stream.
func (m Model) State() stream.State {
	return m.state
}

// Streaming reports whether a reply is in progress.
func (m Model) Streaming() bool {
	return m.state == stream.StateStreaming
}

// submit adds the user turn and starts streaming the reply.
func (m Model) submit(text string) (Model, tea.Cmd) {
	m.conv.AddUser(text)
	history := m.conv.History()
	m.conv.StartAssistant()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelMgr.set(cancel)
	m.throttle.Reset()
	m.streamID++
	m.state = stream.StateStreaming
	m.errText, m.notice = "", ""

	opts := stream.Options{
		KeepPartialOnCancel: m.opts.KeepPartialOnCancel,
		MaxPendingBytes:     m.opts.MaxPendingBytes,
		Logger:              m.opts.Logger,
	}
	m.events = startStream(ctx, m.opts.Streamer, m.streamID, history, opts, m.throttle)
	m.input.Reset()
	m.refresh()

	return m, tea.Batch(waitFor(m.events), flushTick(m.streamID, m.interval), m.spinner.Tick)
}

// finish applies a final result.
func (m Model) finish(res stream.Result) Model {
	m.cancelMgr.cancel()
	m.events = nil
	m.throttle.Reset()
	m.state = res.State

	if retry := Settle(m.conv, res); retry != "" {
		m.input.SetValue(retry)
		m.input.CursorEnd()
	}
	switch res.State {
	case stream.StateFailed:
		m.errText = m.tr.T("error_" + stream.Classification(res.Err))
		if m.opts.Logger != nil {
			m.opts.Logger.Warn().Err(res.Err).Str("class", stream.Classification(res.Err)).Msg("chat reply failed")
		}
	case stream.StateCancelled:
		m.notice = m.tr.T("assistant_cancelled")
	}
	m.refresh()
	return m
}

// nextSuggestion fills the input with the next quick suggestion.
func (m Model) nextSuggestion() Model {
	key := model.SuggestionKeys[m.suggestion%len(model.SuggestionKeys)]
	m.suggestion++
	m.input.SetValue(m.tr.T(key))
	m.input.CursorEnd()
	return m
}

// hasUserTurn reports whether the user has asked anything yet.
func (m Model) hasUserTurn() bool {
	for _, msg := range m.conv.Messages {
		if msg.Role == model.RoleUser {
			return true
		}
	}
	return false
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.theme.SetSize(width, height)
	m.input.Width = width - 6

	vpHeight := height - m.chromeHeight()
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.theme.GlamourStyle()),
		glamour.WithWordWrap(m.theme.BubbleWidth()-4),
	)
	if err == nil {
		m.renderer = r
	}
	m.rendered = make(map[string]string)
	m.ready = true
	m.refresh()
}

// chromeHeight is the number of rows outside the viewport.
func (m *Model) chromeHeight() int {
	// header(2) + suggestions(1) + status(1) + input(2)
	return 6
}

// refresh re-renders the conversation into the viewport, keeping the view
// pinned to the bottom if it was there.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if atBottom || m.Streaming() {
		m.viewport.GotoBottom()
	}
}

// renderMarkdown renders finished assistant replies, caching by message ID.
func (m *Model) renderMarkdown(msg *model.Message) string {
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	if m.renderer == nil {
		return msg.Content
	}
	out, err := m.renderer.Render(msg.Content)
	if err != nil {
		return msg.Content
	}
	out = strings.Trim(out, "\n")
	m.rendered[msg.ID] = out
	return out
}
