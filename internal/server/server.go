// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/auth"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/i18n"
	"github.com/jeranaias/deepagro/internal/model"
	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/stream"
)

// Version is reported by /health.
var Version = "dev"

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Advisor is the part of the advisory backend the server proxies to.
// *advisor.Client implements it.
type Advisor interface {
	ChatStream(ctx context.Context, messages []model.ChatMessage, opts stream.Options) (stream.Result, error)
	PredictCrop(ctx context.Context, in advisor.CropInput) (*advisor.CropPrediction, error)
	PredictFertilizer(ctx context.Context, in advisor.FertilizerInput) (*advisor.FertilizerPrediction, error)
	DetectDisease(ctx context.Context, filename string, r io.Reader) (*advisor.DiseaseResult, error)
}

// Options configures a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	// AuthRequired rejects advisory and chat calls without a session.
	AuthRequired bool
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64

	KeepPartialOnCancel bool
	MaxPendingBytes     int
	// SystemPrompt is prepended to chat requests that carry none.
	SystemPrompt string

	Logger *zerolog.Logger
}

// OptionsFromConfig maps the server and chat sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:                cfg.Server.Addr,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		AuthRequired:        cfg.Server.AuthRequired,
		RateLimit:           cfg.Server.RateLimit,
		KeepPartialOnCancel: cfg.Chat.KeepPartialOnCancel,
		MaxPendingBytes:     cfg.Chat.MaxPendingBytes,
		SystemPrompt:        cfg.Chat.SystemPrompt,
	}
}

// Stats tracks server counters.
type Stats struct {
	StartTime        time.Time
	TotalRequests    atomic.Int64
	Predictions      atomic.Int64
	StreamsCompleted atomic.Int64
	StreamsFailed    atomic.Int64
	StreamsCancelled atomic.Int64
}

// recordStream counts a finished chat stream.
func (s *Stats) recordStream(state stream.State) {
	switch state {
	case stream.StateCompleted:
		s.StreamsCompleted.Add(1)
	case stream.StateCancelled:
		s.StreamsCancelled.Add(1)
	default:
		s.StreamsFailed.Add(1)
	}
}

// Server is the DeepAgro backend-for-frontend.
type Server struct {
	adv     Advisor
	store   *storage.Store
	auth    *auth.Service
	catalog *i18n.Catalog
	opts    Options
	log     zerolog.Logger
	cors    *CORSConfig

	mux        *http.ServeMux
	handler    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader
	stats      Stats
}

// New creates a server. store and authSvc are required; adv may be any
// Advisor implementation.
func New(adv Advisor, store *storage.Store, authSvc *auth.Service, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8080"
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "server").Logger()
	}

	cors := DefaultCORSConfig()
	if len(opts.AllowedOrigins) > 0 {
		cors.AllowedOrigins = opts.AllowedOrigins
	}

	s := &Server{
		adv:     adv,
		store:   store,
		auth:    authSvc,
		catalog: i18n.Default(),
		opts:    opts,
		log:     log,
		cors:    cors,
		mux:     http.NewServeMux(),
	}
	s.stats.StartTime = time.Now()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(log),
		LoggingMiddleware(log),
		s.countRequests,
		SecurityHeadersMiddleware(),
		CORSMiddleware(cors),
	}
	if opts.RateLimit > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(opts.RateLimit, 0)))
	}
	middlewares = append(middlewares, SessionMiddleware(authSvc))
	s.handler = Chain(middlewares...)(s.mux)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: chat streams stay open for as long as the
		// backend keeps sending.
	}
	return s
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/languages", s.handleLanguages)
	s.mux.HandleFunc("GET /api/i18n/{lang}", s.handleDictionary)

	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.requireUser(s.handleLogout))
	s.mux.HandleFunc("POST /api/auth/password", s.requireUser(s.handleChangePassword))
	s.mux.HandleFunc("POST /api/auth/totp/enroll", s.requireUser(s.handleEnrollTOTP))
	s.mux.HandleFunc("POST /api/auth/totp/disable", s.requireUser(s.handleDisableTOTP))

	s.mux.HandleFunc("GET /api/profile", s.requireUser(s.handleGetProfile))
	s.mux.HandleFunc("PUT /api/profile", s.requireUser(s.handlePutProfile))

	s.mux.HandleFunc("GET /api/history", s.requireUser(s.handleListHistory))
	s.mux.HandleFunc("DELETE /api/history/{id}", s.requireUser(s.handleDeleteHistory))
	s.mux.HandleFunc("DELETE /api/history", s.requireUser(s.handleClearHistory))
	s.mux.HandleFunc("GET /api/history/export", s.requireUser(s.handleExportHistory))

	s.mux.HandleFunc("POST /api/crop", s.advisory(s.handleCrop))
	s.mux.HandleFunc("POST /api/fertilizer", s.advisory(s.handleFertilizer))
	s.mux.HandleFunc("POST /api/disease", s.advisory(s.handleDisease))

	s.mux.HandleFunc("POST /api/chat/stream", s.advisory(s.handleChatStream))
	s.mux.HandleFunc("GET /api/chat/ws", s.advisory(s.handleChatWebSocket))
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address. It blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.opts.Addr).Bool("auth_required", s.opts.AuthRequired).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Stats returns the server counters.
func (s *Server) Stats() *Stats {
	return &s.stats
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.TotalRequests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects anonymous requests.
func (s *Server) requireUser(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="deepagro"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Sign in required")
			return
		}
		h(w, r)
	}
}

// advisory applies requireUser only when AuthRequired is set.
func (s *Server) advisory(h http.HandlerFunc) http.HandlerFunc {
	if s.opts.AuthRequired {
		return s.requireUser(h)
	}
	return h
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.cors.isOriginAllowed(origin)
}

// language picks the response language: the signed-in user's profile
// setting, then Accept-Language.
func (s *Server) language(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); lang != "" && i18n.Supported(lang) {
		return lang
	}
	if u := UserFromContext(r.Context()); u != nil {
		if p, err := s.store.GetProfile(r.Context(), u.ID); err == nil && p.Language != "" {
			return i18n.Normalize(p.Language)
		}
	}
	return s.catalog.Match(r.Header.Get("Accept-Language"))
}

// ============================================================================
// Health and i18n
// ============================================================================

type healthResponse struct {
	Status    string      `json:"status"`
	Version   string      `json:"version"`
	Uptime    string      `json:"uptime"`
	Database  string      `json:"database"`
	Backend   string      `json:"backend,omitempty"`
	Stats     healthStats `json:"stats"`
	Timestamp time.Time   `json:"timestamp"`
}

type healthStats struct {
	Requests         int64 `json:"requests"`
	Predictions      int64 `json:"predictions"`
	StreamsCompleted int64 `json:"streams_completed"`
	StreamsFailed    int64 `json:"streams_failed"`
	StreamsCancelled int64 `json:"streams_cancelled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   time.Since(s.stats.StartTime).Round(time.Second).String(),
		Database: "ok",
		Stats: healthStats{
			Requests:         s.stats.TotalRequests.Load(),
			Predictions:      s.stats.Predictions.Load(),
			StreamsCompleted: s.stats.StreamsCompleted.Load(),
			StreamsFailed:    s.stats.StreamsFailed.Load(),
			StreamsCancelled: s.stats.StreamsCancelled.Load(),
		},
		Timestamp: time.Now().UTC(),
	}

	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
	}
	if p, ok := s.adv.(interface{ Ping(context.Context) error }); ok {
		resp.Backend = "ok"
		if err := p.Ping(ctx); err != nil {
			resp.Backend = "unreachable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, status, resp)
}

type languageInfo struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	Translated bool   `json:"translated"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := i18n.Languages()
	out := make([]languageInfo, 0, len(langs))
	for _, l := range langs {
		out = append(out, languageInfo{Code: l.Code, Label: l.Label, Translated: s.catalog.HasDictionary(l.Code)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": out})
}

func (s *Server) handleDictionary(w http.ResponseWriter, r *http.Request) {
	lang := r.PathValue("lang")
	if !i18n.Supported(lang) {
		writeError(w, http.StatusNotFound, "not_found", "Unsupported language: "+lang)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"language":   lang,
		"dictionary": s.catalog.Dictionary(lang),
	})
}

// ============================================================================
// Helper Functions
// ============================================================================

// apiError is the error body, matching what the advisory backend sends.
type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorDetail{Code: code, Message: message}})
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeUpstreamError maps an advisor error onto a response. Backend rate
// limits and quota errors keep their status so clients can react to them.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var se *stream.StatusError
	switch {
	case errors.Is(err, advisor.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
		if se.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(se.RetryAfter))
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", s.catalog.T(s.language(r), "error_rate_limited"))
	case errors.As(err, &se) && se.Status == http.StatusPaymentRequired:
		writeError(w, http.StatusPaymentRequired, "quota_exceeded", s.catalog.T(s.language(r), "error_quota_exceeded"))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "Advisory backend timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		zerolog.Ctx(r.Context()).Debug().Msg("request cancelled by client")
	default:
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("advisory backend error")
		writeError(w, http.StatusBadGateway, "request_failed", s.catalog.T(s.language(r), "error_request_failed"))
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
