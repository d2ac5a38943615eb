// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/auth"
	"github.com/jeranaias/deepagro/internal/export"
	"github.com/jeranaias/deepagro/internal/i18n"
	"github.com/jeranaias/deepagro/internal/storage"
)

// ============================================================================
// Accounts
// ============================================================================

// userView is the public shape of an account.
type userView struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	MFAEnabled bool      `json:"mfa_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewUser(u *storage.User) userView {
	return userView{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Phone:      u.Phone,
		MFAEnabled: u.MFAEnabled(),
		CreatedAt:  u.CreatedAt,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reg := auth.Registration{Email: req.Email, Password: req.Password, Name: req.Name, Phone: req.Phone}
	if err := reg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	u, err := s.auth.Register(r.Context(), reg)
	if errors.Is(err, auth.ErrEmailTaken) {
		writeError(w, http.StatusConflict, "email_taken", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, err, "register failed")
		return
	}

	lang := s.language(r)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    viewUser(u),
		"message": s.catalog.T(lang, "account_created") + " " + s.catalog.T(lang, "can_login_now"),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", s.catalog.T(s.language(r), "fill_required"))
		return
	}

	login, err := s.auth.Login(r.Context(), req.Email, req.Password, req.Code)
	var locked *auth.LockedError
	switch {
	case err == nil:
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", retryAfterSeconds(time.Until(locked.Until)))
		writeError(w, http.StatusLocked, "locked", err.Error())
		return
	case errors.Is(err, auth.ErrMFARequired):
		writeError(w, http.StatusUnauthorized, "mfa_required", s.catalog.T(s.language(r), "mfa_code"))
		return
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", err.Error())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		return
	default:
		s.internalError(w, r, err, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     login.Token,
		ExpiresAt: login.ExpiresAt,
		User:      viewUser(login.User),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), tokenFromContext(r.Context())); err != nil {
		s.internalError(w, r, err, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u := UserFromContext(r.Context())
	err := s.auth.ChangePassword(r.Context(), u.ID, req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case utf8.RuneCountInString(req.NewPassword) < auth.MinPasswordLength:
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.internalError(w, r, err, "password change failed")
	}
}

func (s *Server) handleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	enr, err := s.auth.EnrollTOTP(r.Context(), u.ID)
	if err != nil {
		s.internalError(w, r, err, "TOTP enrollment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":  enr.Secret,
		"url":     enr.URL,
		"message": s.catalog.T(s.language(r), "mfa_enrolled"),
	})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u := UserFromContext(r.Context())
	err := s.auth.DisableTOTP(r.Context(), u.ID, req.Code)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", err.Error())
	default:
		s.internalError(w, r, err, "TOTP disable failed")
	}
}

// ============================================================================
// Profile
// ============================================================================

func (s *Server) profile(r *http.Request, u *storage.User) (*storage.Profile, error) {
	p, err := s.store.GetProfile(r.Context(), u.ID)
	if errors.Is(err, storage.ErrNotFound) {
		p = storage.DefaultProfile(u.ID)
		p.Name = u.Name
		return p, nil
	}
	return p, err
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r, UserFromContext(r.Context()))
	if err != nil {
		s.internalError(w, r, err, "profile lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutProfile merges the request into the stored profile, so clients
// may send only the fields they changed.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	p, err := s.profile(r, u)
	if err != nil {
		s.internalError(w, r, err, "profile lookup failed")
		return
	}
	if !decodeJSON(w, r, p) {
		return
	}
	p.UserID = u.ID
	if p.Language != "" && !i18n.Supported(p.Language) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Unsupported language: "+p.Language)
		return
	}
	if p.Units != "metric" && p.Units != "imperial" {
		writeError(w, http.StatusBadRequest, "invalid_input", "Units must be metric or imperial")
		return
	}
	if p.PrimaryCrops == nil {
		p.PrimaryCrops = []string{}
	}
	if err := s.store.UpsertProfile(r.Context(), p); err != nil {
		s.internalError(w, r, err, "profile update failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ============================================================================
// History
// ============================================================================

const defaultHistoryLimit = 100

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	typ, err := storage.ParseRecordType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.ListHistory(r.Context(), UserFromContext(r.Context()).ID, typ, limit)
	if err != nil {
		s.internalError(w, r, err, "history lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid history id")
		return
	}
	err = s.store.DeleteHistory(r.Context(), UserFromContext(r.Context()).ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "History item not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err, "history delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	typ, err := storage.ParseRecordType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	n, err := s.store.ClearHistory(r.Context(), UserFromContext(r.Context()).ID, typ)
	if err != nil {
		s.internalError(w, r, err, "history clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": n,
		"message": s.catalog.T(s.language(r), "history_cleared", "count", n),
	})
}

// handleExportHistory returns the history as a downloadable document.
// format is md, json or html (default md).
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := storage.ParseRecordType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "md"
	}
	exp, err := export.ForFormat(format, &export.Options{
		IncludeDetails: q.Get("details") != "false",
		Theme:          q.Get("theme"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	u := UserFromContext(r.Context())
	records, err := s.store.ListHistory(r.Context(), u.ID, typ, 0)
	if err != nil {
		s.internalError(w, r, err, "history lookup failed")
		return
	}
	rep := &export.Report{Owner: u.Name, Type: typ, Records: records, Generated: time.Now()}
	body, err := exp.Export(rep)
	if errors.Is(err, export.ErrEmpty) {
		writeError(w, http.StatusNotFound, "not_found", s.catalog.T(s.language(r), "no_history"))
		return
	}
	if err != nil {
		s.internalError(w, r, err, "history export failed")
		return
	}
	w.Header().Set("Content-Type", exp.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(rep, exp)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal", "Internal Server Error")
}
