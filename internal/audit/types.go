// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package audit

import (
	"context"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventTypeAuthFailure EventType = "auth.failure"
	EventTypeAuthzDenied EventType = "authz.denied"
	EventTypeCommand     EventType = "command.invoked"
)

// Outcome is how the audited action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	Outcome     Outcome   `json:"outcome"`
	Actor       Actor     `json:"actor"`
	Source      Source    `json:"source"`
	Action      string    `json:"action,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      int       `json:"status,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Actor is the token holder, empty for failed authentication.
type Actor struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Source is where the request came from.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Types    []EventType
	Outcomes []Outcome
	Actor    string
	Since    time.Time

	// Limit caps the result; events are returned newest first.
	Limit int
}
