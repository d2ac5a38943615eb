// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/auth"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/i18n"
	"github.com/jeranaias/deepagro/internal/logging"
	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/ui/styles"
	"github.com/jeranaias/deepagro/internal/util"
)

// sessionFile holds the token of the signed-in local account.
const sessionFile = "session"

// App is the state shared by every command of one invocation.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Styled enables colors and markdown rendering of answers.
	Styled bool

	configPath string
	jsonOutput bool

	cfg     *config.Config
	log     zerolog.Logger
	catalog *i18n.Catalog
	theme   *styles.Theme

	client *advisor.Client
	store  *storage.Store
	auth   *auth.Service
}

// NewApp creates an App bound to the process streams.
func NewApp() *App {
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		Styled: ColorsEnabled(),
		log:    zerolog.Nop(),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// setup loads the configuration and applies flag overrides. It runs before
// every command.
func (a *App) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if cfg == nil {
		return err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: a.Err,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("config file unreadable, using defaults")
	}
	a.catalog = i18n.Default()
	return nil
}

// Close releases the store if a command opened it.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	a.auth = nil
	return err
}

// =============================================================================
// LAZY DEPENDENCIES
// =============================================================================

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.Default()
	}
	return a.cfg
}

// Logger returns a logger tagged with component.
func (a *App) Logger(component string) zerolog.Logger {
	return logging.Component(a.log, component)
}

func (a *App) translator() i18n.Translator {
	if a.catalog == nil {
		a.catalog = i18n.Default()
	}
	return a.catalog.For(a.Config().UI.Language)
}

func (a *App) themeFor() *styles.Theme {
	if a.theme == nil {
		a.theme = styles.NewTheme(a.Config().UI.Theme)
	}
	return a.theme
}

// markdownStyle is the glamour style for answers, or "" for raw text.
func (a *App) markdownStyle() string {
	if !a.Styled {
		return ""
	}
	return a.themeFor().GlamourStyle()
}

func (a *App) advisorClient() *advisor.Client {
	if a.client == nil {
		opts := advisor.OptionsFromConfig(a.Config().API)
		log := a.Logger("advisor")
		opts.Logger = &log
		a.client = advisor.New(opts)
	}
	return a.client
}

func (a *App) openStore() (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	path, err := a.Config().DatabasePath()
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.store = st
	return st, nil
}

func (a *App) authService() (*auth.Service, error) {
	if a.auth != nil {
		return a.auth, nil
	}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	opts := auth.OptionsFromConfig(a.Config().Auth)
	log := a.Logger("auth")
	opts.Logger = &log
	a.auth = auth.NewService(st, opts)
	return a.auth, nil
}

// =============================================================================
// LOCAL SESSION
// =============================================================================

func sessionPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionFile), nil
}

func saveSessionToken(token string) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	return util.AtomicWriteFileWithDir(path, []byte(token+"\n"), 0o600, 0o700)
}

func loadSessionToken() string {
	path, err := sessionPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func clearSessionToken() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// currentUser resolves the saved session. An expired session is forgotten.
func (a *App) currentUser(ctx context.Context) (*storage.User, error) {
	token := loadSessionToken()
	if token == "" {
		return nil, ErrNotSignedIn
	}
	svc, err := a.authService()
	if err != nil {
		return nil, err
	}
	u, err := svc.Authenticate(ctx, token)
	if errors.Is(err, auth.ErrInvalidSession) {
		_ = clearSessionToken()
		return nil, fmt.Errorf("%w (session expired)", ErrNotSignedIn)
	}
	return u, err
}

// optionalUser is currentUser for commands that only record history when
// someone is signed in.
func (a *App) optionalUser(ctx context.Context) *storage.User {
	if loadSessionToken() == "" {
		return nil
	}
	u, err := a.currentUser(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("continuing without a session")
		return nil
	}
	return u
}

// record stores a history entry for u, logging rather than failing.
func (a *App) record(ctx context.Context, u *storage.User, rec *storage.Record) {
	if u == nil {
		return
	}
	st, err := a.openStore()
	if err != nil {
		a.log.Warn().Err(err).Msg("history not recorded")
		return
	}
	rec.UserID = u.ID
	if _, err := st.AddHistory(ctx, rec); err != nil {
		a.log.Warn().Err(err).Str("type", string(rec.Type)).Msg("history not recorded")
	}
}

// emit prints data as a JSON envelope in --json mode, otherwise calls text.
func (a *App) emit(command string, data any, text func(w io.Writer)) error {
	if a.jsonOutput {
		return NewJSONResponse(command, data).Write(a.Out)
	}
	if text != nil {
		text(a.Out)
	}
	return nil
}
