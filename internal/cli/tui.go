// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/logging"
	"github.com/jeranaias/deepagro/internal/ui/chat"
)

// tuiLogFile receives logs while the full-screen UI owns the terminal.
const tuiLogFile = "tui.log"

func newTUICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen DeepChat interface",
		Long: `Open the full-screen DeepChat interface. This is also what runs when
deepagro is started without a command.

Keys: Enter sends, Esc stops a reply, Tab cycles quick suggestions,
Ctrl+L clears the conversation, Ctrl+C quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), app)
		},
	}
}

func runTUI(ctx context.Context, app *App) error {
	if !IsTTY() || !IsStdoutTTY() {
		return &TTYRequiredError{Operation: "open the chat interface"}
	}

	cfg := app.Config()
	log, closeLog := tuiLogger(cfg)
	defer closeLog()

	m := chat.New(chat.Options{
		Streamer:            app.advisorClient(),
		Translator:          app.translator(),
		Theme:               app.themeFor(),
		SystemPrompt:        cfg.Chat.SystemPrompt,
		KeepPartialOnCancel: cfg.Chat.KeepPartialOnCancel,
		MaxPendingBytes:     cfg.Chat.MaxPendingBytes,
		MaxFPS:              cfg.Chat.MaxFPS,
		Logger:              &log,
	})

	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return NewCommandError("tui", "", err)
	}

	if fm, ok := final.(chat.Model); ok {
		if u := app.optionalUser(ctx); u != nil {
			for _, ex := range fm.Conversation().Exchanges() {
				app.record(ctx, u, advisor.ChatRecord(ex.Question, ex.Reply))
			}
		}
	}
	return nil
}

// tuiLogger writes to ~/.deepagro/tui.log, or nowhere if that fails.
func tuiLogger(cfg *config.Config) (zerolog.Logger, func()) {
	dir, err := config.ConfigDir()
	if err != nil {
		return zerolog.Nop(), func() {}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return zerolog.Nop(), func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, tuiLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), func() {}
	}
	log := logging.NewWithComponent(logging.Config{Level: cfg.Log.Level, Output: f}, "tui")
	return log, func() { f.Close() }
}
