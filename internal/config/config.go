// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/deepagro/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete DeepAgro configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	API     APIConfig     `toml:"api" json:"api"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// APIConfig describes the advisory backend.
type APIConfig struct {
	// BaseURL is the backend root, e.g. http://localhost:5000
	BaseURL string `toml:"base_url" json:"base_url"`
	// Token is sent as a bearer token when set
	Token string `toml:"token" json:"token"`
	// TimeoutSecs bounds prediction calls; chat streams are bounded by context only
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries applies to prediction calls on 5xx and transport errors
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond paces outgoing calls (0 disables pacing)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// ChatConfig controls the chat assistant.
type ChatConfig struct {
	SystemPrompt        string `toml:"system_prompt" json:"system_prompt"`
	KeepPartialOnCancel bool   `toml:"keep_partial_on_cancel" json:"keep_partial_on_cancel"`
	// MaxFPS caps terminal redraws while streaming
	MaxFPS int `toml:"max_fps" json:"max_fps"`
	// MaxPendingBytes caps unprocessed stream text
	MaxPendingBytes int `toml:"max_pending_bytes" json:"max_pending_bytes"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	// Path of the sqlite file (empty = ~/.deepagro/deepagro.db)
	Path string `toml:"path" json:"path"`
}

// ServerConfig controls `deepagro serve`.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// AuthRequired rejects prediction and chat calls without a session
	AuthRequired bool `toml:"auth_required" json:"auth_required"`
	// RateLimit is requests per second per client IP (0 disables)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
}

// AuthConfig controls accounts and sessions.
type AuthConfig struct {
	SessionHours     int    `toml:"session_hours" json:"session_hours"`
	MaxLoginAttempts int    `toml:"max_login_attempts" json:"max_login_attempts"`
	LockoutMinutes   int    `toml:"lockout_minutes" json:"lockout_minutes"`
	MFAIssuer        string `toml:"mfa_issuer" json:"mfa_issuer"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Language is a supported language code (en, hi, te, ...)
	Language string `toml:"language" json:"language"`
	// Theme is "dark", "light" or "auto"
	Theme    string `toml:"theme" json:"theme"`
	WordWrap int    `toml:"word_wrap" json:"word_wrap"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Pretty bool   `toml:"pretty" json:"pretty"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		API: APIConfig{
			BaseURL:           "http://localhost:5000",
			TimeoutSecs:       30,
			MaxRetries:        3,
			RequestsPerSecond: 5,
			Burst:             10,
		},

		Chat: ChatConfig{
			SystemPrompt: "You are DeepChat, an agricultural assistant. Give practical, " +
				"region-aware advice on crops, soil, fertilizers, pests and weather.",
			MaxFPS:          30,
			MaxPendingBytes: 1 << 20,
		},

		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost:8081", "http://localhost:19006"},
			RateLimit:      10,
		},

		Auth: AuthConfig{
			SessionHours:     24 * 7,
			MaxLoginAttempts: 5,
			LockoutMinutes:   15,
			MFAIssuer:        "DeepAgro",
		},

		UI: UIConfig{
			Language: "en",
			Theme:    "auto",
			WordWrap: 80,
		},

		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the DeepAgro configuration directory. DEEPAGRO_HOME
// overrides the default ~/.deepagro.
func ConfigDir() (string, error) {
	if dir := os.Getenv("DEEPAGRO_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".deepagro"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DatabasePath returns the configured sqlite path or the default one.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "deepagro.db"), nil
}

// ensureSecurePermissions tightens a config file to 0600 since it may hold
// the API token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.deepagro/config.toml, then config.json,
// then built-in defaults. Environment overrides are applied last. A broken
// file is reported alongside the defaults rather than aborting startup.
func Load() (*Config, error) {
	var loadErr error

	for _, locate := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := locate()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
		break
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadFromPath loads, overrides, defaults and validates one file. Files
// ending in .json are JSON, everything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without environment overrides or
// validation. It is what `config set` edits, so overrides never leak into
// the saved file.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
	}
	return cfg, nil
}

// fillDefaults fills zero values a user may have blanked out.
func (c *Config) fillDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSecs <= 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.API.Burst <= 0 {
		c.API.Burst = d.API.Burst
	}
	if c.Chat.MaxFPS <= 0 {
		c.Chat.MaxFPS = d.Chat.MaxFPS
	}
	if c.Chat.MaxPendingBytes <= 0 {
		c.Chat.MaxPendingBytes = d.Chat.MaxPendingBytes
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Auth.SessionHours <= 0 {
		c.Auth.SessionHours = d.Auth.SessionHours
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		c.Auth.MaxLoginAttempts = d.Auth.MaxLoginAttempts
	}
	if c.Auth.LockoutMinutes <= 0 {
		c.Auth.LockoutMinutes = d.Auth.LockoutMinutes
	}
	if c.Auth.MFAIssuer == "" {
		c.Auth.MFAIssuer = d.Auth.MFAIssuer
	}
	if c.UI.Language == "" {
		c.UI.Language = d.UI.Language
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.WordWrap <= 0 {
		c.UI.WordWrap = d.UI.WordWrap
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf strings.Builder
	buf.WriteString("# DeepAgro configuration file\n")
	buf.WriteString("# Generated by deepagro - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON, atomically with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Languages accepted for ui.language.
var supportedLanguages = map[string]bool{
	"en": true, "hi": true, "te": true, "ta": true, "kn": true, "ml": true,
	"mr": true, "bn": true, "gu": true, "pa": true, "or": true,
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "invalid URL '%s', must be http(s)://host[:port]", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 0 || c.API.TimeoutSecs > 600 {
		add("api.timeout_secs", "must be between 0 and 600, got %d", c.API.TimeoutSecs)
	}
	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		add("api.max_retries", "must be between 0 and 10, got %d", c.API.MaxRetries)
	}
	if c.API.RequestsPerSecond < 0 {
		add("api.requests_per_second", "must not be negative")
	}

	if c.Chat.MaxFPS < 0 || c.Chat.MaxFPS > 60 {
		add("chat.max_fps", "must be between 0 and 60, got %d", c.Chat.MaxFPS)
	}
	if c.Chat.MaxPendingBytes < 0 {
		add("chat.max_pending_bytes", "must not be negative")
	}

	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			add("server.allowed_origins", "invalid origin '%s'", origin)
		}
	}

	if c.Auth.MaxLoginAttempts < 0 {
		add("auth.max_login_attempts", "must not be negative")
	}
	if c.Auth.SessionHours < 0 || c.Auth.SessionHours > 24*90 {
		add("auth.session_hours", "must be between 0 and %d, got %d", 24*90, c.Auth.SessionHours)
	}

	if c.UI.Language != "" && !supportedLanguages[strings.ToLower(c.UI.Language)] {
		add("ui.language", "unsupported language '%s'", c.UI.Language)
	}
	switch strings.ToLower(c.UI.Theme) {
	case "", "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "off":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - DEEPAGRO_API_URL: overrides api.base_url
//   - DEEPAGRO_API_TOKEN: overrides api.token
//   - DEEPAGRO_LANG: overrides ui.language
//   - DEEPAGRO_LOG_LEVEL: overrides log.level
//   - DEEPAGRO_DB: overrides storage.path
//   - DEEPAGRO_ADDR: overrides server.addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DEEPAGRO_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("DEEPAGRO_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("DEEPAGRO_LANG"); v != "" {
		c.UI.Language = v
	}
	if v := os.Getenv("DEEPAGRO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DEEPAGRO_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("DEEPAGRO_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "api.base_url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		name := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(n string) bool {
			return strings.EqualFold(n, name)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName turns snake_case or kebab-case into a Go field name.
// Acronym fields (API, MFA, FPS, URL) still match through EqualFold.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}

func setFieldValue(field reflect.Value, value any) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(s)
			if err != nil {
				b = strings.EqualFold(s, "yes") || strings.EqualFold(s, "on")
			}
			field.SetBool(b)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(s, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String && field.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// GetAllKeys returns every settable key in dot notation, derived from the
// toml tags.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("toml")
		if f.Type.Kind() != reflect.Struct {
			keys = append(keys, tag)
			continue
		}
		for j := 0; j < f.Type.NumField(); j++ {
			keys = append(keys, tag+"."+f.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String renders the config as JSON with the API token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.Token != "" {
		safe.API.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if cfg == nil {
		return err
	}
	SetGlobal(cfg)
	return err
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
