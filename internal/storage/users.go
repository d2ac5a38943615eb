// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	TOTPSecret   string
	FailedLogins int
	LockedUntil  time.Time
	CreatedAt    time.Time
}

// MFAEnabled reports whether the user has enrolled a TOTP secret.
func (u *User) MFAEnabled() bool {
	return u.TOTPSecret != ""
}

const userColumns = `id, email, name, phone, password_hash, totp_secret, failed_logins, locked_until, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var locked, created int64
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.PasswordHash,
		&u.TOTPSecret, &u.FailedLogins, &locked, &created); err != nil {
		return nil, notFound(err)
	}
	u.LockedUntil = fromMillis(locked)
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

// CreateUser inserts u and sets its ID and CreatedAt. The email is stored
// trimmed and compared case-insensitively.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.Email = strings.TrimSpace(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, name, phone, password_hash, totp_secret, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Email, u.Name, u.Phone, u.PasswordHash, u.TOTPSecret, toMillis(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// UserByEmail looks a user up by email, ignoring case.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(email))
	return scanUser(row)
}

// UserByID looks a user up by ID.
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return s.updateUser(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
}

// SetTOTPSecret stores (or with "" clears) the user's TOTP secret.
func (s *Store) SetTOTPSecret(ctx context.Context, id int64, secret string) error {
	return s.updateUser(ctx, `UPDATE users SET totp_secret = ? WHERE id = ?`, secret, id)
}

// SetLoginState records the failed-login counter and lockout deadline.
func (s *Store) SetLoginState(ctx context.Context, id int64, failed int, lockedUntil time.Time) error {
	return s.updateUser(ctx, `UPDATE users SET failed_logins = ?, locked_until = ? WHERE id = ?`,
		failed, toMillis(lockedUntil), id)
}

func (s *Store) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
