// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"errors"

	"github.com/tomtom215/offsite/internal/archive"
	"github.com/tomtom215/offsite/internal/transfer"
)

var (
	// ErrAlreadyInProgress rejects a backup request while another is live.
	// It is a rejection, not a failure.
	ErrAlreadyInProgress = errors.New("a backup is already in progress")

	// ErrNothingToAbort is returned by Abort when no backup is live.
	ErrNothingToAbort = errors.New("no backup in progress")

	// ErrQuiesceTimeout means the server did not reach a copy-safe state in time.
	ErrQuiesceTimeout = errors.New("timed out waiting for server to quiesce")

	// ErrQuiesceSignalMissing means the save confirmation could not be observed.
	ErrQuiesceSignalMissing = errors.New("save confirmation not received")

	// ErrServerUnsupervised is returned when resuming a server this process does not run.
	ErrServerUnsupervised = errors.New("server is not supervised")
)

// outcomeFor classifies a terminal pipeline error.
func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrClosed):
		return OutcomeFailed
	case errors.Is(err, archive.ErrAborted):
		return OutcomeAborted
	default:
		return OutcomeFailed
	}
}

// errorKind returns a short operator-facing label for a failure.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosed):
		return "shutdown"
	case errors.Is(err, archive.ErrAborted):
		return "aborted"
	case errors.Is(err, ErrQuiesceTimeout):
		return "quiesce_timeout"
	case errors.Is(err, ErrQuiesceSignalMissing):
		return "quiesce_signal_missing"
	case errors.Is(err, archive.ErrIO), errors.Is(err, archive.ErrInvalidPattern):
		return "archive_io"
	case errors.Is(err, transfer.ErrConnection):
		return "connection"
	case errors.Is(err, transfer.ErrUpload), errors.Is(err, transfer.ErrNotConnected):
		return "upload"
	default:
		return "internal"
	}
}

// ErrClosed is returned once the Manager has been closed.
var ErrClosed = errors.New("backup manager is closed")
