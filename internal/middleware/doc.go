// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package middleware provides the HTTP middleware shared by the control API:
// request IDs, request logging and Prometheus instrumentation.
//
// All middleware use the func(http.Handler) http.Handler shape so they can
// be installed with chi's Router.Use.
package middleware
