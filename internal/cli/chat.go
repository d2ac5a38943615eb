// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/stream"
	"github.com/jeranaias/deepagro/internal/ui/chat"
)

// chatHistoryFile keeps the REPL's input history between sessions.
const chatHistoryFile = "chat_history"

// =============================================================================
// SHARED STREAMING
// =============================================================================

// exchange sends question on conv and streams the reply. live, when set,
// receives every increment as it arrives. The conversation is settled the
// same way the TUI settles it: a request that failed before any text rolls
// the question back and returns it as retry.
func (a *App) exchange(ctx context.Context, conv *model.Conversation, question string, live io.Writer) (res stream.Result, retry string) {
	conv.AddUser(question)
	history := conv.History()
	conv.StartAssistant()

	cfg := a.Config().Chat
	log := a.Logger("chat")
	opts := stream.Options{
		KeepPartialOnCancel: cfg.KeepPartialOnCancel,
		MaxPendingBytes:     cfg.MaxPendingBytes,
		Logger:              &log,
	}
	if live != nil {
		opts.OnUpdate = func(u stream.Update) {
			fmt.Fprint(live, u.Delta)
		}
	}

	res, _ = a.advisorClient().ChatStream(ctx, history, opts)
	retry = chat.Settle(conv, res)
	if res.State == stream.StateCompleted {
		a.record(ctx, a.optionalUser(ctx), advisor.ChatRecord(question, res.Content))
	}
	return res, retry
}

// describeFailure turns a failed or cancelled result into a localized line.
func (a *App) describeFailure(res stream.Result) string {
	tr := a.translator()
	if res.State == stream.StateCancelled {
		return tr.T("assistant_cancelled")
	}
	msg := tr.T("error_" + stream.Classification(res.Err))
	var se *stream.StatusError
	if errors.As(res.Err, &se) && se.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry in %s)", se.RetryAfter)
	}
	return msg
}

// =============================================================================
// ASK
// =============================================================================

func newAskCmd(app *App) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask DeepChat one question",
		Long: `Ask DeepChat one question and print the answer.

On a terminal the answer is rendered as markdown once it is complete.
Piped output, and --raw, stream the text as it arrives.`,
		Example: `  deepagro ask "When should I sow paddy in Telangana?"
  echo "How do I treat leaf blight?" | deepagro ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(app.In, args)
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), app, question, raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "stream plain text instead of rendered markdown")
	return cmd
}

// readQuestion joins args, or reads stdin when the only arg is "-".
func readQuestion(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(in, 64*1024))
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", usagef("question is empty")
	}
	return q, nil
}

func runAsk(ctx context.Context, app *App, question string, raw bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := model.NewConversation(app.Config().Chat.SystemPrompt)
	style := app.markdownStyle()
	streaming := raw || style == "" || app.jsonOutput

	var live io.Writer
	if streaming && !app.jsonOutput {
		live = app.Out
	} else if !app.jsonOutput {
		fmt.Fprintln(app.Err, DimStyle.Render(app.translator().T("assistant_typing")))
	}

	res, _ := app.exchange(ctx, conv, question, live)

	if app.jsonOutput {
		if res.State == stream.StateFailed {
			return NewCommandError("ask", "", res.Err)
		}
		return app.emit("ask", map[string]any{
			"question": question,
			"answer":   res.Content,
			"state":    res.State.String(),
		}, nil)
	}

	switch {
	case res.State == stream.StateCompleted && !streaming:
		fmt.Fprint(app.Out, renderMarkdown(res.Content, style, app.Config().UI.WordWrap))
	case res.State == stream.StateCompleted:
		if !strings.HasSuffix(res.Content, "\n") {
			fmt.Fprintln(app.Out)
		}
	case res.State == stream.StateCancelled:
		fmt.Fprintln(app.Err, "\n"+WarningStyle.Render(app.describeFailure(res)))
		return NewCommandError("ask", "", stream.ErrCancelled)
	default:
		return NewCommandError("ask", "", fmt.Errorf("%s: %w", app.describeFailure(res), res.Err))
	}
	return nil
}

// =============================================================================
// CHAT REPL
// =============================================================================

// interruptible lets Ctrl+C stop the reply in flight without ending the
// session.
type interruptible struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (i *interruptible) begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
	return ctx
}

func (i *interruptible) end() {
	i.mu.Lock()
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	i.mu.Unlock()
}

// interrupt cancels the reply in flight, reporting whether there was one.
func (i *interruptible) interrupt() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel == nil {
		return false
	}
	i.cancel()
	i.cancel = nil
	return true
}

func newChatCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with DeepChat in the terminal",
		Long: `Start an interactive chat with DeepChat.

Replies stream as they are written. Press Ctrl+C to stop a reply, Ctrl+D or
type /exit to leave. Other commands: /clear, /help.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), app)
		},
	}
}

func runChat(ctx context.Context, app *App) error {
	tr := app.translator()
	conv := model.NewConversation(app.Config().Chat.SystemPrompt)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyPath := ""
	if dir, err := config.ConfigDir(); err == nil {
		historyPath = filepath.Join(dir, chatHistoryFile)
		if f, err := os.Open(historyPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if historyPath != "" {
			if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}
		line.Close()
	}()

	// liner only reads keys while prompting; during a reply Ctrl+C arrives
	// as SIGINT.
	var current interruptible
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()
	go func() {
		for range sigs {
			current.interrupt()
		}
	}()

	out := app.Out
	fmt.Fprintln(out, TitleStyle.Render(tr.T("assistant_title")+" · "+tr.T("assistant_subtitle")))
	fmt.Fprintln(out, renderMarkdown(tr.T(model.WelcomeKey), app.markdownStyle(), app.Config().UI.WordWrap))
	printSuggestions(out, app)

	prefill := ""
	for {
		var (
			input string
			err   error
		)
		if prefill != "" {
			input, err = line.PromptWithSuggestion(PromptStyle.Render("you> "), prefill, -1)
			prefill = ""
		} else {
			input, err = line.Prompt(PromptStyle.Render("you> "))
		}
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed stdin.
			fmt.Fprintln(out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if n, ok := suggestionIndex(input); ok {
			input = tr.T(model.SuggestionKeys[n])
			fmt.Fprintln(out, DimStyle.Render("> "+input))
		} else if strings.HasPrefix(input, "/") {
			if !handleSlash(out, app, conv, input) {
				return nil
			}
			continue
		}

		fmt.Fprint(out, AssistantStyle.Render(tr.T("assistant_title")+": "))
		res, retry := app.exchange(current.begin(ctx), conv, input, out)
		current.end()

		switch res.State {
		case stream.StateCompleted:
			if !strings.HasSuffix(res.Content, "\n") {
				fmt.Fprintln(out)
			}
		case stream.StateCancelled:
			fmt.Fprintln(out, "\n"+WarningStyle.Render(app.describeFailure(res)))
		default:
			fmt.Fprintln(out, "\n"+ErrorStyle.Render(app.describeFailure(res)))
			prefill = retry
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printSuggestions(w io.Writer, app *App) {
	tr := app.translator()
	fmt.Fprintln(w, DimStyle.Render(tr.T("assistant_quick_suggestions_label")))
	for i, key := range model.SuggestionKeys {
		fmt.Fprintf(w, "  %s %s\n", PromptStyle.Render(fmt.Sprintf("/%d", i+1)), tr.T(key))
	}
}

// suggestionIndex recognizes "/1".."/n" shortcuts for quick suggestions.
func suggestionIndex(input string) (int, bool) {
	if len(input) != 2 || input[0] != '/' {
		return 0, false
	}
	n := int(input[1] - '1')
	if n < 0 || n >= len(model.SuggestionKeys) {
		return 0, false
	}
	return n, true
}

// handleSlash runs a REPL command. It returns false to end the session.
func handleSlash(w io.Writer, app *App, conv *model.Conversation, input string) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/exit", "/quit", "/q":
		return false
	case "/clear":
		conv.Clear()
		fmt.Fprintln(w, SuccessStyle.Render("Conversation cleared."))
	case "/suggest":
		printSuggestions(w, app)
	case "/help", "/?":
		fmt.Fprintln(w, "  /1../4    send a quick suggestion")
		fmt.Fprintln(w, "  /suggest  list quick suggestions")
		fmt.Fprintln(w, "  /clear    start a new conversation")
		fmt.Fprintln(w, "  /exit     leave (or Ctrl+D)")
		fmt.Fprintln(w, "  Ctrl+C    stop the current reply")
	default:
		fmt.Fprintln(w, WarningStyle.Render("Unknown command "+input+"; try /help"))
	}
	return true
}
