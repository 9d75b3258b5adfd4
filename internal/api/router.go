// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/offsite/internal/agent"
	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/authz"
	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/middleware"
)

// Backend is the daemon surface the API drives.
type Backend interface {
	Config() *config.Config
	TestConnection(ctx context.Context) error
	MakeBackup(trigger backup.Trigger, reply backup.Reporter) error
	Inquire() backup.Progress
	Abort() error
	Reload() error
	History(limit int) []backup.Record
	Status() agent.Status
}

// Options tune the router.
type Options struct {
	// RateLimit is requests per minute per client IP on /api/v1.
	RateLimit int

	// TestTimeout bounds the connection test command.
	TestTimeout time.Duration

	// Audit receives command audit events. Nil disables auditing.
	Audit *audit.Logger

	// AllowedOrigins enables CORS for browser dashboards. Empty disables it.
	AllowedOrigins []string
}

// Server holds the API dependencies.
type Server struct {
	backend Backend
	authz   Authorizer
	opts    Options
}

// NewServer creates a Server.
func NewServer(backend Backend, az Authorizer, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = time.Minute
	}
	return &Server{backend: backend, authz: az, opts: opts}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.opts.RateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded")
			}),
		))
		r.Use(s.authenticate)

		r.With(s.authorize(authz.CommandTest)).Post("/test", s.handleTest)
		r.With(s.authorize(authz.CommandStatus)).Get("/status", s.handleStatus)
		r.With(s.authorize(authz.CommandReload)).Post("/reload", s.handleReload)
		r.With(s.authorize(authz.CommandAudit)).Get("/audit", s.handleAudit)

		r.Route("/backup", func(r chi.Router) {
			r.With(s.authorize(authz.CommandMake)).Post("/", s.handleMake)
			r.With(s.authorize(authz.CommandInquire)).Get("/progress", s.handleProgress)
			r.With(s.authorize(authz.CommandAbort)).Post("/abort", s.handleAbort)
			r.With(s.authorize(authz.CommandHistory)).Get("/history", s.handleHistory)
		})
	})

	return r
}
