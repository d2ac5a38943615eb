// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by the CLI commands.
const (
	FlagAPIURL   = "api-url"
	FlagLang     = "lang"
	FlagLogLevel = "log-level"
	FlagDB       = "db"
	FlagAddr     = "addr"
)

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	FlagAPIURL:   "api.base_url",
	FlagLang:     "ui.language",
	FlagLogLevel: "log.level",
	FlagDB:       "storage.path",
	FlagAddr:     "server.addr",
}

// BindFlags registers the global override flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String(FlagAPIURL, "", "advisory backend URL (overrides api.base_url)")
	fs.StringP(FlagLang, "l", "", "interface language code, e.g. en, hi, te")
	fs.String(FlagLogLevel, "", "log level: debug, info, warn, error")
	fs.String(FlagDB, "", "path to the local database")
	fs.String(FlagAddr, "", "listen address for serve")
}

// ApplyFlags copies every flag the user actually set into c, then
// re-validates. Flags win over file and environment values.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || setErr != nil {
			return
		}
		setErr = c.Set(key, f.Value.String())
	})
	if setErr != nil {
		return setErr
	}
	return c.Validate()
}
