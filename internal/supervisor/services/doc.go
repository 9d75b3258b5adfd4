// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package services adapts daemon components to suture.Service.
//
// AgentService runs the backup agent once for the life of the tree.
// HTTPServerService translates http.Server's blocking ListenAndServe into a
// context-aware Serve with graceful shutdown.
package services
