// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package api serves the operator control API.
//
// Every response uses one envelope:
//
//	{"status": "success", "data": {...}, "metadata": {...}}
//	{"status": "error", "error": {"code": "...", "message": "..."}, "metadata": {...}}
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/middleware"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope for all API responses.
type Response struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    *Error      `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Error describes a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Metadata accompanies every response.
type Metadata struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// Error codes.
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTooManyRequests   = "TOO_MANY_REQUESTS"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeUnavailable       = "SERVICE_UNAVAILABLE"
	ErrCodeAlreadyInProgress = "ALREADY_IN_PROGRESS"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeScheduleInvalid   = "SCHEDULE_INVALID"
	ErrCodeConnection        = "CONNECTION_FAILED"
	ErrCodeTimeout           = "TIMEOUT"
)

// responder writes envelopes for one request.
type responder struct {
	w     http.ResponseWriter
	r     *http.Request
	start time.Time
}

func newResponder(w http.ResponseWriter, r *http.Request) *responder {
	return &responder{w: w, r: r, start: time.Now()}
}

func (rw *responder) metadata() Metadata {
	return Metadata{
		RequestID:  middleware.GetRequestID(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.start).Milliseconds(),
	}
}

func (rw *responder) success(status int, data interface{}) {
	rw.writeJSON(status, Response{Status: StatusSuccess, Data: data, Metadata: rw.metadata()})
}

func (rw *responder) fail(status int, code, message string) {
	rw.writeJSON(status, Response{
		Status:   StatusError,
		Error:    &Error{Code: code, Message: message},
		Metadata: rw.metadata(),
	})
}

func (rw *responder) writeJSON(status int, body Response) {
	rw.w.Header().Set("Content-Type", "application/json")
	rw.w.Header().Set("Cache-Control", "no-store")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

// writeError writes an error envelope without a responder, for middleware.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	newResponder(w, r).fail(status, code, message)
}
