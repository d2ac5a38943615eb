// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/i18n"
	"github.com/jeranaias/deepagro/internal/storage"
)

// profileKeys lists what `profile set` accepts.
var profileKeys = []string{
	"name", "role", "location", "farm_size", "primary_crops", "language", "units",
	"notify.push", "notify.weather", "notify.pest", "notify.tips",
}

func newProfileCmd(app *App) *cobra.Command {
	show := &cobra.Command{
		Use:   "show",
		Short: "Show your farmer profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, err := app.loadProfile(cmd.Context())
			if err != nil {
				return NewCommandError("profile", "show", err)
			}
			return app.emit("profile show", p, func(w io.Writer) { printProfile(w, app, p) })
		},
	}

	set := &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change profile fields",
		Long: "Change profile fields. Keys: " + strings.Join(profileKeys, ", ") + `.
primary_crops takes a comma separated list; notify.* take true or false.`,
		Example: `  deepagro profile set location="Guntur, AP" farm_size="5 acres"
  deepagro profile set primary_crops=rice,chilli language=te`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, p, err := app.loadProfile(ctx)
			if err != nil {
				return NewCommandError("profile", "set", err)
			}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return usagef("expected key=value, got %q", arg)
				}
				if err := applyProfileSetting(p, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
					return usagef("%v", err)
				}
			}
			st, err := app.openStore()
			if err != nil {
				return err
			}
			if err := st.UpsertProfile(ctx, p); err != nil {
				return NewCommandError("profile", "set", err)
			}
			return app.emit("profile set", p, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(app.translator().T("save")+" ✓"))
				printProfile(w, app, p)
			})
		},
	}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your farmer profile",
		Args:  cobra.NoArgs,
		RunE:  show.RunE,
	}
	cmd.AddCommand(show, set)
	return cmd
}

// loadProfile returns the signed-in user and their profile, falling back to
// the default profile for accounts that never saved one.
func (a *App) loadProfile(ctx context.Context) (*storage.User, *storage.Profile, error) {
	u, err := a.currentUser(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	p, err := st.GetProfile(ctx, u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		p = storage.DefaultProfile(u.ID)
		p.Name = u.Name
		err = nil
	}
	return u, p, err
}

func applyProfileSetting(p *storage.Profile, key, value string) error {
	boolValue := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s must be true or false", key)
		}
		return b, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "name":
		p.Name = value
	case "role":
		p.Role = value
	case "location":
		p.Location = value
	case "farm_size", "farm-size":
		p.FarmSize = value
	case "primary_crops", "primary-crops", "crops":
		p.PrimaryCrops = []string{}
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				p.PrimaryCrops = append(p.PrimaryCrops, c)
			}
		}
	case "language", "lang":
		if !i18n.Supported(value) {
			return fmt.Errorf("unsupported language %q", value)
		}
		p.Language = strings.ToLower(value)
	case "units":
		if value != "metric" && value != "imperial" {
			return errors.New("units must be metric or imperial")
		}
		p.Units = value
	case "notify.push":
		p.Notifications.Push, err = boolValue()
	case "notify.weather":
		p.Notifications.Weather, err = boolValue()
	case "notify.pest":
		p.Notifications.Pest, err = boolValue()
	case "notify.tips":
		p.Notifications.Tips, err = boolValue()
	default:
		return fmt.Errorf("unknown profile key %q (valid: %s)", key, strings.Join(profileKeys, ", "))
	}
	return err
}

func printProfile(w io.Writer, app *App, p *storage.Profile) {
	tr := app.translator()
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	fmt.Fprintln(w, TitleStyle.Render(tr.T("profile")))
	printField(w, tr.T("farmer_name"), p.Name)
	printField(w, "Role", p.Role)
	printField(w, tr.T("location"), p.Location)
	printField(w, tr.T("farm_size"), p.FarmSize)
	printField(w, tr.T("primary_crops"), strings.Join(p.PrimaryCrops, ", "))

	fmt.Fprintln(w, SectionStyle.Render(tr.T("preferences")))
	printField(w, tr.T("language"), p.Language)
	printField(w, tr.T("units"), p.Units)

	fmt.Fprintln(w, SectionStyle.Render(tr.T("notifications")))
	printField(w, tr.T("push_notifications"), onOff(p.Notifications.Push))
	printField(w, tr.T("weather_alerts"), onOff(p.Notifications.Weather))
	printField(w, tr.T("pest_alerts"), onOff(p.Notifications.Pest))
	printField(w, tr.T("tips_suggestions"), onOff(p.Notifications.Tips))
}
