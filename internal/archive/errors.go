// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package archive

import "errors"

var (
	// ErrAborted is returned when the build context is cancelled between files.
	ErrAborted = errors.New("archive aborted")

	// ErrIO wraps filesystem failures while counting or building.
	ErrIO = errors.New("archive i/o error")

	// ErrInvalidPattern is returned for malformed exclusion patterns.
	ErrInvalidPattern = errors.New("invalid exclusion pattern")
)
