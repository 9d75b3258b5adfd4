// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/offsite/internal/archive"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/transfer"
)

// session is one live backup. It is owned by the Manager and discarded
// when the pipeline returns.
type session struct {
	id        string
	trigger   Trigger
	startedAt time.Time
	cfg       *config.Config
	guard     *transfer.Guard

	progress       archive.Progress
	state          atomic.Int32
	abortRequested atomic.Bool
	abortOnce      sync.Once

	// snapCtx covers quiesce and snapshot. Abort cancels it.
	snapCtx    context.Context
	snapCancel context.CancelCauseFunc
}

func newSession(ctx context.Context, trigger Trigger, cfg *config.Config, guard *transfer.Guard, now time.Time) *session {
	snapCtx, cancel := context.WithCancelCause(ctx)
	return &session{
		id:         uuid.NewString(),
		trigger:    trigger,
		startedAt:  now,
		cfg:        cfg,
		guard:      guard,
		snapCtx:    snapCtx,
		snapCancel: cancel,
	}
}

func (s *session) setState(st State) { s.state.Store(int32(st)) }

func (s *session) State() State { return State(s.state.Load()) }

// abort records the request and cancels the snapshot context. It reports
// whether this call was the one that cancelled.
func (s *session) abort() bool {
	s.abortRequested.Store(true)
	first := false
	s.abortOnce.Do(func() {
		first = true
		s.snapCancel(archive.ErrAborted)
	})
	return first
}

// release frees the snapshot context without marking an abort.
func (s *session) release() {
	s.snapCancel(context.Canceled)
}

func (s *session) snapshot() Progress {
	total, processed := s.progress.Snapshot()
	return Progress{
		Running:        true,
		ID:             s.id,
		Trigger:        s.trigger,
		State:          s.State(),
		StartedAt:      s.startedAt,
		Total:          total,
		Processed:      processed,
		AbortRequested: s.abortRequested.Load(),
	}
}
