// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrLocked is matched by LockedError.
	ErrLocked = errors.New("account locked")

	// ErrMFARequired means the password was right but a TOTP code is needed.
	ErrMFARequired = errors.New("authentication code required")

	// ErrInvalidCode is returned for a wrong TOTP code.
	ErrInvalidCode = errors.New("invalid authentication code")

	// ErrInvalidSession is returned for unknown or expired session tokens.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrEmailTaken is returned when registering an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

// LockedError reports an account locked after too many failed logins.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.Kitchen))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// =============================================================================
// SERVICE
// =============================================================================

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Options configures a Service.
type Options struct {
	SessionTTL      time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
	Issuer          string
	Logger          *zerolog.Logger

	// Now is used for lockout and session expiry; defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps the [auth] config section onto Options.
func OptionsFromConfig(c config.AuthConfig) Options {
	return Options{
		SessionTTL:      time.Duration(c.SessionHours) * time.Hour,
		MaxAttempts:     c.MaxLoginAttempts,
		LockoutDuration: time.Duration(c.LockoutMinutes) * time.Minute,
		Issuer:          c.MFAIssuer,
	}
}

// Service manages accounts and sessions.
type Service struct {
	store *storage.Store
	opts  Options
	log   zerolog.Logger
}

// NewService creates a Service. Zero option values get defaults.
func NewService(store *storage.Store, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 15 * time.Minute
	}
	if opts.Issuer == "" {
		opts.Issuer = "DeepAgro"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "auth").Logger()
	}
	return &Service{store: store, opts: opts, log: log}
}

// Registration holds sign-up form values.
type Registration struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// Validate checks the sign-up form.
func (r Registration) Validate() error {
	email := strings.TrimSpace(r.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return errors.New("invalid email address")
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return errors.New("phone number is required")
	}
	return nil
}

// Register creates an account and its default profile.
func (s *Service) Register(ctx context.Context, reg Registration) (*storage.User, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}

	u := &storage.User{
		Email:        reg.Email,
		Name:         strings.TrimSpace(reg.Name),
		Phone:        strings.TrimSpace(reg.Phone),
		PasswordHash: hash,
		CreatedAt:    s.opts.Now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	profile := storage.DefaultProfile(u.ID)
	profile.Name = u.Name
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", u.ID).Msg("account registered")
	return u, nil
}

// Login is a successful sign-in.
type Login struct {
	Token     string
	User      *storage.User
	ExpiresAt time.Time
}

// Login checks credentials and opens a session. code is the TOTP code and
// is only consulted for accounts with a second factor.
func (s *Service) Login(ctx context.Context, email, password, code string) (*Login, error) {
	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		// Burn the same work as a real check.
		CheckPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if now.Before(u.LockedUntil) {
		return nil, &LockedError{Until: u.LockedUntil}
	}

	if !CheckPassword(u.PasswordHash, password) {
		return nil, s.recordFailure(ctx, u, now)
	}
	if u.MFAEnabled() {
		if code == "" {
			return nil, ErrMFARequired
		}
		if !totp.Validate(strings.TrimSpace(code), u.TOTPSecret) {
			if err := s.recordFailure(ctx, u, now); errors.Is(err, ErrLocked) {
				return nil, err
			}
			return nil, ErrInvalidCode
		}
	}

	if u.FailedLogins > 0 || !u.LockedUntil.IsZero() {
		if err := s.store.SetLoginState(ctx, u.ID, 0, time.Time{}); err != nil {
			return nil, err
		}
		u.FailedLogins, u.LockedUntil = 0, time.Time{}
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	sess := &storage.Session{
		TokenHash: HashToken(token),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", u.ID).Bool("mfa", u.MFAEnabled()).Msg("login succeeded")
	return &Login{Token: token, User: u, ExpiresAt: sess.ExpiresAt}, nil
}

// recordFailure bumps the failure counter and locks the account once it
// reaches MaxAttempts. It returns the error Login should report.
func (s *Service) recordFailure(ctx context.Context, u *storage.User, now time.Time) error {
	failed := u.FailedLogins + 1
	var until time.Time
	if failed >= s.opts.MaxAttempts {
		until = now.Add(s.opts.LockoutDuration)
		failed = 0
	}
	if err := s.store.SetLoginState(ctx, u.ID, failed, until); err != nil {
		return err
	}
	u.FailedLogins, u.LockedUntil = failed, until

	if !until.IsZero() {
		s.log.Warn().Int64("user_id", u.ID).Time("locked_until", until).Msg("account locked")
		return &LockedError{Until: until}
	}
	s.log.Debug().Int64("user_id", u.ID).Int("failed", failed).Msg("login failed")
	return ErrInvalidCredentials
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*storage.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	sess, err := s.store.SessionByToken(ctx, HashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.opts.Now()) {
		_ = s.store.DeleteSession(ctx, sess.TokenHash)
		return nil, ErrInvalidSession
	}
	u, err := s.store.UserByID(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	return u, err
}

// Logout ends the session for token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, HashToken(token))
}

// ChangePassword replaces a password after checking the old one and signs
// the user out of every session.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}
	if utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.store.DeleteUserSessions(ctx, userID)
}

// PruneSessions deletes expired sessions.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.opts.Now())
}

// =============================================================================
// TOTP
// =============================================================================

// Enrollment is a freshly generated TOTP secret.
type Enrollment struct {
	Secret string
	// URL is the otpauth:// URI for authenticator apps.
	URL string
}

// EnrollTOTP generates and stores a TOTP secret for the user. From then on
// Login requires a code.
func (s *Service) EnrollTOTP(ctx context.Context, userID int64) (*Enrollment, error) {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.opts.Issuer,
		AccountName: u.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	if err := s.store.SetTOTPSecret(ctx, userID, key.Secret()); err != nil {
		return nil, err
	}
	s.log.Info().Int64("user_id", userID).Msg("TOTP enrolled")
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// VerifyTOTP checks a code against the user's enrolled secret.
func (s *Service) VerifyTOTP(ctx context.Context, userID int64, code string) error {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAEnabled() {
		return errors.New("TOTP not enrolled")
	}
	if !totp.Validate(strings.TrimSpace(code), u.TOTPSecret) {
		return ErrInvalidCode
	}
	return nil
}

// DisableTOTP removes the second factor after checking a current code.
func (s *Service) DisableTOTP(ctx context.Context, userID int64, code string) error {
	if err := s.VerifyTOTP(ctx, userID, code); err != nil {
		return err
	}
	return s.store.SetTOTPSecret(ctx, userID, "")
}

// =============================================================================
// TOKENS
// =============================================================================

// dummyHash keeps unknown-email logins as slow as real ones.
var dummyHash = encodeHash("deepagro", make([]byte, SaltSize), PBKDF2Iterations)

// newToken returns 32 random bytes as hex.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("cryptographic random generation failed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the stored form of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
