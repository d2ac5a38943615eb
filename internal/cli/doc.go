// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the deepagro command line.
//
// Commands are built with cobra. Every command shares one lazily wired set of
// dependencies (config, logger, advisory client, local store, auth service)
// held by App, so tests can swap the output streams and the backend URL.
//
// # Key Types
//
//   - App: shared state for one invocation
//   - CommandError: a failure annotated with the command that produced it
//   - JSONResponse: the --json envelope printed by data commands
//
// # Usage
//
//	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
//
// # Commands Overview
//
//   - serve: run the HTTP backend-for-frontend
//   - chat, ask, tui: talk to DeepChat
//   - predict crop, predict fertilizer, disease: advisory tools
//   - history, profile, user: local account data
//   - config, lang, version: settings and info
//
// Data commands accept --json for machine-readable output.
package cli
