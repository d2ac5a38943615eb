// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/server"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCmd builds the command tree around app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "deepagro",
		Short: "Crop, fertilizer and plant-health advice with DeepChat",
		Long: `DeepAgro helps farmers pick crops, choose fertilizers, diagnose leaf
diseases and ask DeepChat, an agricultural assistant.

Configuration is read from ~/.deepagro/config.toml (DEEPAGRO_HOME moves
the directory). Environment variables and flags override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), app)
		},
	}

	flags := root.PersistentFlags()
	config.BindFlags(flags)
	flags.StringVar(&app.configPath, "config", "", "config file (default ~/.deepagro/config.toml)")
	flags.BoolVar(&app.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newServeCmd(app),
		newChatCmd(app),
		newAskCmd(app),
		newTUICmd(app),
		newPredictCmd(app),
		newDiseaseCmd(app),
		newHistoryCmd(app),
		newProfileCmd(app),
		newUserCmd(app),
		newConfigCmd(app),
		newLangCmd(app),
		newVersionCmd(app),
	)
	return root
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return ExecuteApp(ctx, NewApp(), args)
}

// ExecuteApp is Execute with caller-provided streams.
func ExecuteApp(ctx context.Context, app *App, args []string) int {
	server.Version = Version

	root := NewRootCmd(app)
	root.SetArgs(args)
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	cmd, err := root.ExecuteContextC(ctx)
	if cerr := app.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		return ExitSuccess
	}

	name := root.Name()
	if cmd != nil {
		name = cmd.Name()
	}
	if isFlagError(err) {
		err = usagef("%v", err)
	}
	DisplayError(app.Err, name, err, app.jsonOutput)
	return ExitCode(err)
}

// isFlagError recognizes cobra's argument and flag failures, which are
// returned as plain errors.
func isFlagError(err error) bool {
	var usage *usageError
	if errors.As(err, &usage) {
		return false
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return false
	}
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand", "accepts ", "requires ", "required flag", "invalid argument", "flag needs"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// =============================================================================
// VERSION
// =============================================================================

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return app.emit("version", info, func(w io.Writer) {
				fmt.Fprintf(w, "deepagro %s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
				fmt.Fprintf(w, "%s %s\n", info.GoVersion, info.Platform)
			})
		},
	}
}
