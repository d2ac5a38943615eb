// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for DeepAgro.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, command-line flags and validation.
//
// # Key Types
//
//   - Config: main configuration structure
//   - APIConfig: advisory backend URL, token, retries and pacing
//   - ChatConfig: assistant prompt and streaming limits
//   - ServerConfig / AuthConfig: the HTTP front-end and its accounts
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command-line flags (BindFlags / ApplyFlags)
//   - Environment variables (DEEPAGRO_*)
//   - ~/.deepagro/config.toml
//   - ~/.deepagro/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	url := cfg.API.BaseURL
//
// Watch reloads a file on change using fsnotify.
package config
