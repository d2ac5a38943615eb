// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEEPAGRO_HOME", dir)
	for _, k := range []string{"DEEPAGRO_API_URL", "DEEPAGRO_API_TOKEN", "DEEPAGRO_LANG",
		"DEEPAGRO_LOG_LEVEL", "DEEPAGRO_DB", "DEEPAGRO_ADDR"} {
		t.Setenv(k, "")
	}
	return dir
}

// TestConfig_ConcurrentAccess tests that Global and SetGlobal can be used
// concurrently. Run with -race.
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.UI.Language = "hi"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_GlobalInitialization(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()

	cfg := Global()
	require.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:5000", cfg.API.BaseURL)
	assert.Equal(t, "en", cfg.UI.Language)
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30, cfg.Chat.MaxFPS)
	assert.Equal(t, 1<<20, cfg.Chat.MaxPendingBytes)
	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Empty(t, cfg.API.Token)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.API.BaseURL = "localhost:5000" }, "api.base_url"},
		{"ftp url", func(c *Config) { c.API.BaseURL = "ftp://host" }, "api.base_url"},
		{"retries", func(c *Config) { c.API.MaxRetries = 99 }, "api.max_retries"},
		{"fps", func(c *Config) { c.Chat.MaxFPS = 240 }, "chat.max_fps"},
		{"language", func(c *Config) { c.UI.Language = "fr" }, "ui.language"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"origin", func(c *Config) { c.Server.AllowedOrigins = []string{"not a url"} }, "server.allowed_origins"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_SaveAndLoadTOML(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.API.BaseURL = "https://agro.example.org"
	cfg.API.Token = "tok"
	cfg.UI.Language = "te"
	cfg.Server.AllowedOrigins = []string{"*"}
	require.NoError(t, Save(cfg))

	path := filepath.Join(dir, "config.toml")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://agro.example.org", loaded.API.BaseURL)
	assert.Equal(t, "tok", loaded.API.Token)
	assert.Equal(t, "te", loaded.UI.Language)
	assert.Equal(t, []string{"*"}, loaded.Server.AllowedOrigins)
}

func TestConfig_LoadJSONFallback(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	cfg.UI.Language = "kn"
	require.NoError(t, SaveJSON(cfg, filepath.Join(dir, "config.json")))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "kn", loaded.UI.Language)
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ui]\nlanguage = \"ta\"\n"), 0644))

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ta", loaded.UI.Language)
	assert.Equal(t, "http://localhost:5000", loaded.API.BaseURL)
	assert.Equal(t, 15, loaded.Auth.LockoutMinutes)

	info, _ := os.Stat(path)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfig_BrokenFileFallsBackToDefaults(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[ui\nlanguage="), 0600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "en", cfg.UI.Language)
}

func TestConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DEEPAGRO_API_URL", "http://10.0.0.5:5000")
	t.Setenv("DEEPAGRO_API_TOKEN", "env-token")
	t.Setenv("DEEPAGRO_LANG", "hi")
	t.Setenv("DEEPAGRO_DB", "/tmp/agro.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:5000", cfg.API.BaseURL)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, "hi", cfg.UI.Language)

	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agro.db", path)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("api.base_url", "http://backend:5000"))
	require.NoError(t, cfg.Set("chat.max_fps", "24"))
	require.NoError(t, cfg.Set("chat.keep_partial_on_cancel", "true"))
	require.NoError(t, cfg.Set("api.requests_per_second", "2.5"))
	require.NoError(t, cfg.Set("server.allowed_origins", "http://a.test, http://b.test"))
	require.NoError(t, cfg.Set("auth.mfa_issuer", "Agro"))
	require.NoError(t, cfg.Set("auth.max_login_attempts", 7))

	v, err := cfg.Get("api.base_url")
	require.NoError(t, err)
	assert.Equal(t, "http://backend:5000", v)
	assert.Equal(t, 24, cfg.Chat.MaxFPS)
	assert.True(t, cfg.Chat.KeepPartialOnCancel)
	assert.Equal(t, 2.5, cfg.API.RequestsPerSecond)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "Agro", cfg.Auth.MFAIssuer)
	assert.Equal(t, 7, cfg.Auth.MaxLoginAttempts)

	_, err = cfg.Get("api.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("chat.max_fps", "fast"))
	assert.Error(t, cfg.Set("api.base_url.x", "y"))
	assert.Error(t, cfg.Set("", "y"))
}

func TestConfig_GetAllKeysResolve(t *testing.T) {
	cfg := Default()
	keys := GetAllKeys()
	assert.Contains(t, keys, "api.base_url")
	assert.Contains(t, keys, "chat.max_pending_bytes")

	for _, key := range keys {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.API.Token = "super-secret"

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.API.Token)
}

func TestConfig_ApplyFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--lang", "bn", "--api-url", "http://x.test:5000"}))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, "bn", cfg.UI.Language)
	assert.Equal(t, "http://x.test:5000", cfg.API.BaseURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)

	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-l", "xx"}))
	assert.Error(t, Default().ApplyFlags(fs))
}

func TestConfig_Watch(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, 20*time.Millisecond, func(c *Config, err error) {
		if err == nil {
			got <- c
		}
	}))

	cfg := Default()
	cfg.UI.Language = "mr"
	require.NoError(t, SaveTOML(cfg, path))

	select {
	case c := <-got:
		assert.Equal(t, "mr", c.UI.Language)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestConfig_ReadFileSkipsEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nbase_url = \"http://file:5000\"\n"), 0o600))
	t.Setenv("DEEPAGRO_API_URL", "http://env:5000")

	raw, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:5000", raw.API.BaseURL)

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:5000", loaded.API.BaseURL)
}
