// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package audit records who ran which operator command.
//
// The control API logs three kinds of events: rejected credentials
// (auth.failure), commands refused by the permission policy (authz.denied)
// and commands that were admitted (command.invoked, with the HTTP status
// they ended with). Events are written asynchronously to a Store; the
// bundled MemoryStore keeps the most recent ones for GET /api/v1/audit.
//
//	logger := audit.NewLogger(audit.NewMemoryStore(1000), nil)
//	defer logger.Close()
//	logger.Log(&audit.Event{Type: audit.EventTypeCommand, Action: "make", ...})
package audit
