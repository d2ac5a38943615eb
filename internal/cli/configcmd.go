// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/i18n"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show or change DeepAgro settings.

Keys use dot notation, e.g. api.base_url or ui.language. Values in the
environment (DEEPAGRO_API_URL, DEEPAGRO_LANG, ...) and flags override the
file but are never written to it.`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config()
			if app.jsonOutput {
				// Round-trip through String so the token stays redacted.
				var redacted map[string]any
				if err := json.Unmarshal([]byte(cfg.String()), &redacted); err != nil {
					return err
				}
				return app.emit("config show", redacted, nil)
			}
			fmt.Fprintln(app.Out, cfg.String())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.Config().Get(args[0])
			if err != nil {
				return usagef("%v", err)
			}
			if args[0] == "api.token" && v != "" {
				v = "[REDACTED]"
			}
			return app.emit("config get", map[string]any{"key": args[0], "value": v}, func(w io.Writer) {
				fmt.Fprintln(w, v)
			})
		},
	}

	set := &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change one setting in the config file",
		Example: "  deepagro config set api.base_url http://192.168.1.20:5000\n  deepagro config set ui.language te",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configFile()
			if err != nil {
				return err
			}
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if cfg, err = config.ReadFile(path); err != nil {
					return NewCommandError("config", "set", err)
				}
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return usagef("%v", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			save := config.SaveTOML
			if strings.EqualFold(filepath.Ext(path), ".json") {
				save = config.SaveJSON
			}
			if err := save(cfg, path); err != nil {
				return NewCommandError("config", "set", err)
			}
			return app.emit("config set", map[string]string{"key": args[0], "value": args[1], "path": path}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("%s = %s", args[0], args[1])))
				fmt.Fprintln(w, DimStyle.Render("saved to "+path))
			})
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.configFile()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(p)
			return app.emit("config path", map[string]any{"path": p, "exists": statErr == nil}, func(w io.Writer) {
				fmt.Fprintln(w, p)
			})
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every settable key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := config.GetAllKeys()
			return app.emit("config keys", all, func(w io.Writer) {
				for _, k := range all {
					fmt.Fprintln(w, k)
				}
			})
		},
	}

	cmd.AddCommand(show, get, set, path, keys)
	return cmd
}

// configFile is the file `config set` writes: --config, or the default TOML.
func (a *App) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}

// =============================================================================
// LANGUAGES
// =============================================================================

type languageRow struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	Translated bool   `json:"translated"`
	Missing    int    `json:"missing_keys,omitempty"`
	Current    bool   `json:"current"`
}

func newLangCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "lang [code]",
		Short: "List interface languages, or switch to one",
		Long: `Without an argument, list the interface languages. Languages without
their own dictionary fall back to English, and the list counts the keys a
partial dictionary still shows in English.

With a code, save it as ui.language.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if !i18n.Supported(args[0]) {
					return usagef("unsupported language %q; run 'deepagro lang' for the list", args[0])
				}
				set, _, err := cmd.Root().Find([]string{"config", "set"})
				if err != nil {
					return err
				}
				return set.RunE(set, []string{"ui.language", i18n.Normalize(args[0])})
			}

			current := i18n.Normalize(app.Config().UI.Language)
			var rows []languageRow
			for _, l := range i18n.Languages() {
				row := languageRow{
					Code:       l.Code,
					Label:      l.Label,
					Translated: app.catalog.HasDictionary(l.Code),
					Current:    l.Code == current,
				}
				if row.Translated {
					row.Missing = len(app.catalog.Missing(l.Code))
				}
				rows = append(rows, row)
			}
			return app.emit("lang", rows, func(w io.Writer) {
				for _, r := range rows {
					mark := "  "
					if r.Current {
						mark = SuccessStyle.Render("* ")
					}
					note := ""
					switch {
					case !r.Translated:
						note = DimStyle.Render(" (English fallback)")
					case r.Missing > 0:
						note = DimStyle.Render(fmt.Sprintf(" (%d keys in English)", r.Missing))
					}
					fmt.Fprintf(w, "%s%-4s %s%s\n", mark, r.Code, r.Label, note)
				}
			})
		},
	}
}
