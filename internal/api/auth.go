// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/authz"
	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/middleware"
)

// Authorizer decides whether a role may run a command.
type Authorizer interface {
	Allowed(role, command string) (bool, error)
}

// Principal is the authenticated caller.
type Principal struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type principalKey struct{}

// PrincipalFromContext returns the caller set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authenticate resolves the bearer token to a role. With no tokens
// configured, only loopback callers are accepted and they act as admin.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens := s.backend.Config().Control.Tokens

		var p Principal
		switch {
		case len(tokens) == 0:
			if !isLoopback(r.RemoteAddr) {
				s.record(r, audit.EventTypeAuthFailure, audit.OutcomeFailure, Principal{}, "", "remote caller without configured tokens", http.StatusUnauthorized)
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "no control tokens configured; only local access is allowed")
				return
			}
			p = Principal{Name: "local", Role: authz.RoleAdmin}
		default:
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				s.record(r, audit.EventTypeAuthFailure, audit.OutcomeFailure, Principal{}, "", "missing bearer token", http.StatusUnauthorized)
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
				return
			}
			found := false
			for _, t := range tokens {
				if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
					p = Principal{Name: t.Name, Role: t.Role}
					found = true
				}
			}
			if !found {
				logging.Warn().Str("remote", r.RemoteAddr).Msg("Rejected control API request with unknown token")
				s.record(r, audit.EventTypeAuthFailure, audit.OutcomeFailure, Principal{}, "", "invalid bearer token", http.StatusUnauthorized)
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid bearer token")
				return
			}
		}

		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize admits the request only if the caller's role may run command.
func (s *Server) authorize(command string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			ok, err := s.authz.Allowed(p.Role, command)
			if err != nil {
				logging.Error().Err(err).Str("command", command).Msg("Authorization check failed")
				writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "authorization check failed")
				return
			}
			if !ok {
				logging.Warn().Str("caller", p.Name).Str("role", p.Role).Str("command", command).Msg("Command denied")
				s.record(r, audit.EventTypeAuthzDenied, audit.OutcomeDenied, p, command, "", http.StatusForbidden)
				writeError(w, r, http.StatusForbidden, ErrCodeForbidden, "role "+p.Role+" may not run "+command)
				return
			}

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			outcome := audit.OutcomeSuccess
			if status >= http.StatusBadRequest {
				outcome = audit.OutcomeFailure
			}
			s.record(r, audit.EventTypeCommand, outcome, p, command, "", status)
		})
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// record queues an audit event when auditing is enabled.
func (s *Server) record(r *http.Request, typ audit.EventType, outcome audit.Outcome, p Principal, command, desc string, status int) {
	if s.opts.Audit == nil {
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.opts.Audit.Log(&audit.Event{
		Type:        typ,
		Outcome:     outcome,
		Actor:       audit.Actor{Name: p.Name, Role: p.Role},
		Source:      audit.Source{IPAddress: host, UserAgent: r.UserAgent()},
		Action:      command,
		Description: desc,
		Status:      status,
		RequestID:   middleware.GetRequestID(r.Context()),
	})
}
