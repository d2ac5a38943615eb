// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/logging"
	"github.com/jeranaias/deepagro/internal/server"
)

const (
	shutdownTimeout    = 15 * time.Second
	sessionPrunePeriod = time.Hour
)

func newServeCmd(app *App) *cobra.Command {
	var authRequired bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server for the mobile app",
		Long: `Run the DeepAgro backend-for-frontend.

The server exposes accounts, profiles, history, the prediction proxies and
the streamed DeepChat endpoints (SSE and WebSocket) to the mobile app. It
stops gracefully on SIGINT or SIGTERM.`,
		Example: `  deepagro serve --addr :8080
  deepagro serve --api-url http://ml-backend:5000 --auth-required`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("auth-required") {
				app.Config().Server.AuthRequired = authRequired
			}
			return runServe(cmd.Context(), app)
		},
	}
	cmd.Flags().BoolVar(&authRequired, "auth-required", false, "reject predictions and chat without a session")
	return cmd
}

func runServe(ctx context.Context, app *App) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.Config()
	log := app.Logger("serve")

	st, err := app.openStore()
	if err != nil {
		return NewCommandError("serve", "", err)
	}
	authSvc, err := app.authService()
	if err != nil {
		return NewCommandError("serve", "", err)
	}

	opts := server.OptionsFromConfig(cfg)
	srvLog := app.log
	opts.Logger = &srvLog
	srv := server.New(app.advisorClient(), st, authSvc, opts)

	go pruneSessions(ctx, log, func(ctx context.Context) (int64, error) {
		return authSvc.PruneSessions(ctx)
	})
	watchConfig(ctx, app, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(app.Err, "%s listening on http://%s (backend %s)\n",
		SuccessStyle.Render("DeepAgro"), cfg.Server.Addr, cfg.API.BaseURL)

	select {
	case err := <-errCh:
		if err != nil {
			return NewCommandError("serve", "", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return NewCommandError("serve", "shutdown", err)
	}
	stats := srv.Stats()
	log.Info().
		Int64("requests", stats.TotalRequests.Load()).
		Int64("predictions", stats.Predictions.Load()).
		Int64("streams_completed", stats.StreamsCompleted.Load()).
		Msg("server stopped")
	return nil
}

// pruneSessions deletes expired sessions until ctx is done.
func pruneSessions(ctx context.Context, log zerolog.Logger, prune func(context.Context) (int64, error)) {
	ticker := time.NewTicker(sessionPrunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := prune(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("session pruning failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("count", n).Msg("expired sessions removed")
			}
		}
	}
}

// watchConfig follows the config file. The log level applies live; every
// other setting is read at startup, so changes to them are only reported.
func watchConfig(ctx context.Context, app *App, log zerolog.Logger) {
	path := app.configPath
	if path == "" {
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return
		}
	}
	err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("config reload failed, keeping current settings")
			return
		}
		zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))
		log.Info().Str("log_level", cfg.Log.Level).Msg("config reloaded; restart to apply server settings")
	})
	if err != nil {
		log.Debug().Err(err).Msg("config watch unavailable")
	}
}
