// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/tomtom215/offsite/internal/audit"
	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/logging"
)

// Listing limits.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxAuditLimit       = 1000
)

// MessageData is the payload of commands that only report an outcome.
type MessageData struct {
	Message string `json:"message"`
}

// ProgressData is the payload of the progress and make commands.
type ProgressData struct {
	Progress backup.Progress `json:"progress"`
	Message  string          `json:"message"`
}

// AbortData is the payload of the abort command.
type AbortData struct {
	Aborted bool   `json:"aborted"`
	Message string `json:"message"`
}

// RecordData is the payload of a make request that waited for completion.
type RecordData struct {
	Record backup.Record `json:"record"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	newResponder(w, r).success(http.StatusOK, MessageData{Message: "ok"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.TestTimeout)
	defer cancel()

	if err := s.backend.TestConnection(ctx); err != nil {
		s.fail(rw, err)
		return
	}
	rw.success(http.StatusOK, MessageData{Message: "connection test succeeded"})
}

// handleMake starts a backup. With ?wait=true the request blocks until the
// backup finishes and returns its record.
func (s *Server) handleMake(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	var done chan backup.Status
	var reply backup.Reporter
	if wait {
		done = make(chan backup.Status, 1)
		reply = backup.ReporterFunc(func(st backup.Status) { done <- st })
	}

	if err := s.backend.MakeBackup(backup.TriggerAPI, reply); err != nil {
		s.fail(rw, err)
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	logging.Info().Str("caller", p.Name).Msg("Backup requested through control API")

	if !wait {
		progress := s.backend.Inquire()
		rw.success(http.StatusAccepted, ProgressData{Progress: progress, Message: "backup started"})
		return
	}

	select {
	case st := <-done:
		rw.success(http.StatusOK, RecordData{Record: st.Record()})
	case <-r.Context().Done():
		// Client went away; the backup continues.
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p := s.backend.Inquire()
	newResponder(w, r).success(http.StatusOK, ProgressData{Progress: p, Message: p.String()})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	err := s.backend.Abort()
	switch {
	case errors.Is(err, backup.ErrNothingToAbort):
		rw.success(http.StatusOK, AbortData{Aborted: false, Message: "nothing to abort"})
	case err != nil:
		s.fail(rw, err)
	default:
		rw.success(http.StatusOK, AbortData{Aborted: true, Message: "abort requested"})
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	if err := s.backend.Reload(); err != nil {
		s.fail(rw, err)
		return
	}
	rw.success(http.StatusOK, MessageData{Message: "configuration reloaded"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rw.fail(http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rw.success(http.StatusOK, s.backend.History(limit))
}

// handleAudit lists audit events, newest first. Query parameters: limit,
// actor and type (repeatable).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	rw := newResponder(w, r)
	if s.opts.Audit == nil {
		rw.fail(http.StatusNotFound, ErrCodeNotFound, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.QueryFilter{Limit: defaultHistoryLimit, Actor: q.Get("actor")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rw.fail(http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, audit.EventType(t))
	}

	events, err := s.opts.Audit.Query(r.Context(), filter)
	if err != nil {
		s.fail(rw, err)
		return
	}
	rw.success(http.StatusOK, events)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	newResponder(w, r).success(http.StatusOK, s.backend.Status())
}

func (s *Server) fail(rw *responder, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		logging.Error().Err(err).Str("code", code).Msg("Control API command failed")
	}
	rw.fail(status, code, err.Error())
}
