// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements DeepAgro accounts on top of the storage package.
//
// Passwords are hashed with PBKDF2-SHA-256 and a random salt. Repeated
// failed logins lock the account for a fixed period. Session tokens are
// random and only their SHA-256 hash is stored. Accounts may enroll a TOTP
// second factor, after which Login requires a current code.
//
// # Key Types
//
//   - Service: registration, login, session lookup and TOTP enrollment
//   - Options: session lifetime and lockout policy
//   - LockedError: returned while an account is locked
//
// # Usage
//
//	svc := auth.NewService(store, auth.OptionsFromConfig(cfg.Auth))
//	login, err := svc.Login(ctx, email, password, "")
//	if errors.Is(err, auth.ErrMFARequired) {
//	    // prompt for a code and call Login again
//	}
//	user, err := svc.Authenticate(ctx, login.Token)
package auth
