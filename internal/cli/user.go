// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepagro/internal/auth"
)

// accountView is the JSON shape of an account.
type accountView struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	MFAEnabled bool      `json:"mfa_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

func newUserCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the local DeepAgro account",
		Long: `Manage the local DeepAgro account.

Signing in keeps a session token in ~/.deepagro/session. While signed in,
predictions and chats are saved to your history.`,
	}
	cmd.AddCommand(
		newRegisterCmd(app),
		newLoginCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newPasswordCmd(app),
		newTOTPCmd(app),
	)
	return cmd
}

func newRegisterCmd(app *App) *cobra.Command {
	var reg auth.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := app.translator()
			p := newPrompter(app.In, app.Err)
			for _, f := range []struct {
				val    *string
				label  string
				secret bool
			}{
				{&reg.Name, tr.T("farmer_name"), false},
				{&reg.Email, tr.T("email"), false},
				{&reg.Phone, tr.T("phone_number"), false},
				{&reg.Password, tr.T("password"), true},
			} {
				if *f.val != "" {
					continue
				}
				var err error
				if f.secret {
					*f.val, err = p.Secret(f.label)
				} else {
					*f.val, err = p.Line(f.label)
				}
				if err != nil {
					return NewCommandError("user", "register", err)
				}
			}
			if err := reg.Validate(); err != nil {
				return usagef("%v", err)
			}

			svc, err := app.authService()
			if err != nil {
				return err
			}
			u, err := svc.Register(cmd.Context(), reg)
			if err != nil {
				return NewCommandError("user", "register", err)
			}
			view := accountView{ID: u.ID, Email: u.Email, Name: u.Name, Phone: u.Phone, CreatedAt: u.CreatedAt}
			return app.emit("user register", view, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(tr.T("account_created")+" "+tr.T("can_login_now")))
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&reg.Name, "name", "", "farmer name")
	fs.StringVar(&reg.Email, "email", "", "email address")
	fs.StringVar(&reg.Phone, "phone", "", "phone number")
	return cmd
}

func newLoginCmd(app *App) *cobra.Command {
	var email, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tr := app.translator()
			p := newPrompter(app.In, app.Err)

			var err error
			if email == "" {
				if email, err = p.Line(tr.T("email")); err != nil {
					return NewCommandError("user", "login", err)
				}
			}
			password, err := p.Secret(tr.T("password"))
			if err != nil {
				return NewCommandError("user", "login", err)
			}

			svc, err := app.authService()
			if err != nil {
				return err
			}
			login, err := svc.Login(ctx, email, password, code)
			if errors.Is(err, auth.ErrMFARequired) && code == "" {
				if code, err = p.Line(tr.T("mfa_code")); err != nil {
					return NewCommandError("user", "login", err)
				}
				login, err = svc.Login(ctx, email, password, code)
			}
			if err != nil {
				return NewCommandError("user", "login", err)
			}
			if err := saveSessionToken(login.Token); err != nil {
				return NewCommandError("user", "login", fmt.Errorf("saving session: %w", err))
			}

			return app.emit("user login", map[string]any{
				"email":      login.User.Email,
				"expires_at": login.ExpiresAt,
			}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("%s %s: %s", tr.T("login"), tr.T("success"), login.User.Name)))
				fmt.Fprintln(w, DimStyle.Render("Session valid until "+login.ExpiresAt.Local().Format(historyDateFormat)))
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&code, "code", "", "authentication code, if two-factor is enabled")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token := loadSessionToken(); token != "" {
				svc, err := app.authService()
				if err != nil {
					return err
				}
				if err := svc.Logout(cmd.Context(), token); err != nil {
					app.log.Debug().Err(err).Msg("server-side session already gone")
				}
			}
			if err := clearSessionToken(); err != nil {
				return NewCommandError("user", "logout", err)
			}
			return app.emit("user logout", map[string]bool{"signed_out": true}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(app.translator().T("logout")+" ✓"))
			})
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := app.currentUser(cmd.Context())
			if err != nil {
				return NewCommandError("user", "whoami", err)
			}
			view := accountView{ID: u.ID, Email: u.Email, Name: u.Name, Phone: u.Phone, MFAEnabled: u.MFAEnabled(), CreatedAt: u.CreatedAt}
			return app.emit("user whoami", view, func(w io.Writer) {
				tr := app.translator()
				printField(w, tr.T("farmer_name"), u.Name)
				printField(w, tr.T("email"), u.Email)
				printField(w, tr.T("phone_number"), u.Phone)
				printField(w, "Two-factor", map[bool]string{true: "on", false: "off"}[u.MFAEnabled()])
			})
		},
	}
}

func newPasswordCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "password",
		Short: "Change your password (signs out everywhere)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("user", "password", err)
			}
			p := newPrompter(app.In, app.Err)
			oldPw, err := p.Secret("Current password")
			if err != nil {
				return NewCommandError("user", "password", err)
			}
			newPw, err := p.Secret("New password")
			if err != nil {
				return NewCommandError("user", "password", err)
			}
			svc, err := app.authService()
			if err != nil {
				return err
			}
			if err := svc.ChangePassword(ctx, u.ID, oldPw, newPw); err != nil {
				return NewCommandError("user", "password", err)
			}
			_ = clearSessionToken()
			return app.emit("user password", map[string]bool{"changed": true}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Password changed. Sign in again with 'deepagro user login'."))
			})
		},
	}
}

func newTOTPCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage two-factor authentication",
	}

	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enable two-factor authentication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("user", "totp enroll", err)
			}
			svc, err := app.authService()
			if err != nil {
				return err
			}
			enr, err := svc.EnrollTOTP(ctx, u.ID)
			if err != nil {
				return NewCommandError("user", "totp enroll", err)
			}
			return app.emit("user totp enroll", map[string]string{
				"secret": enr.Secret,
				"url":    enr.URL,
			}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render(app.translator().T("mfa_enrolled")))
				printField(w, "Secret", enr.Secret)
				printField(w, "URL", enr.URL)
			})
		},
	}

	var code string
	disable := &cobra.Command{
		Use:   "disable",
		Short: "Disable two-factor authentication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := app.currentUser(ctx)
			if err != nil {
				return NewCommandError("user", "totp disable", err)
			}
			if code == "" {
				if code, err = newPrompter(app.In, app.Err).Line(app.translator().T("mfa_code")); err != nil {
					return NewCommandError("user", "totp disable", err)
				}
			}
			svc, err := app.authService()
			if err != nil {
				return err
			}
			if err := svc.DisableTOTP(ctx, u.ID, code); err != nil {
				return NewCommandError("user", "totp disable", err)
			}
			return app.emit("user totp disable", map[string]bool{"mfa_enabled": false}, func(w io.Writer) {
				fmt.Fprintln(w, SuccessStyle.Render("Two-factor authentication disabled."))
			})
		},
	}
	disable.Flags().StringVar(&code, "code", "", "current authentication code")

	cmd.AddCommand(enroll, disable)
	return cmd
}
