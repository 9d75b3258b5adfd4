// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
manager.go - Backup Manager

This file contains the Manager and its operator-facing operations:

  - MakeBackup: claim the single session slot and start the pipeline
  - Abort: cancel the live snapshot
  - Inquire: non-blocking progress view
  - Reload: swap the configuration for the next backup
  - TestConnection: connect and disconnect with the current settings

Thread Safety:
Configuration, transfer guard, live session and last status are all held
in atomic pointers. No operation blocks on the running pipeline. The
history store has its own lock.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/metrics"
	"github.com/tomtom215/offsite/internal/process"
	"github.com/tomtom215/offsite/internal/transfer"
)

// Deps are the collaborators a Manager drives.
type Deps struct {
	// Tasks runs each backup pipeline in the background. Required.
	Tasks process.Submitter

	// Controller is used by the stop strategy.
	Controller Controller

	// Console is used by the save strategy.
	Console Console

	// NewClient builds a transfer client. Defaults to transfer.New.
	NewClient func(config.TransferConfig) (transfer.Client, error)

	// Clock stamps sessions and drives connect retries. Defaults to the wall clock.
	Clock clock.Clock
}

// Manager runs backups one at a time.
type Manager struct {
	deps Deps
	log  zerolog.Logger

	active  atomic.Pointer[activeConfig]
	current atomic.Pointer[session]
	last    atomic.Pointer[Status]

	history  *historyStore
	reloadMu sync.Mutex

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// activeConfig pairs a configuration with the breaker for its endpoint, so
// a backup never sees one without the other.
type activeConfig struct {
	cfg   *config.Config
	guard *transfer.Guard
}

// NewManager validates cfg and creates a Manager. The backup directory is
// created if missing and any existing history is loaded.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("backup manager requires a task runner")
	}
	if deps.NewClient == nil {
		deps.NewClient = transfer.New
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}

	if err := os.MkdirAll(cfg.Backup.BackupDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	m := &Manager{
		deps: deps,
		log:  logging.Component("backup"),
	}
	m.ctx, m.cancel = context.WithCancelCause(context.Background())

	history, err := loadHistory(filepath.Join(cfg.Backup.BackupDir, HistoryFile))
	if err != nil {
		m.log.Warn().Err(err).Msg("Ignoring unreadable backup history")
	}
	m.history = history

	m.active.Store(&activeConfig{cfg: cfg, guard: m.newGuard(cfg.Transfer)})
	return m, nil
}

func (m *Manager) newGuard(tc config.TransferConfig) *transfer.Guard {
	settings := transfer.SettingsFor(tc)
	settings.Clock = m.deps.Clock
	g := transfer.NewGuard(tc.Endpoint(), settings)
	g.OnStateChange = func(endpoint string, _, to gobreaker.State) {
		metrics.SetCircuitState(endpoint, int(to))
	}
	return g
}

// Config returns the configuration the next backup will use.
func (m *Manager) Config() *config.Config {
	return m.active.Load().cfg
}

// MakeBackup starts a backup in the background and returns immediately.
// reply receives the terminal status exactly once. If a backup is already
// live, ErrAlreadyInProgress is returned and reply is never called.
func (m *Manager) MakeBackup(trigger Trigger, reply Reporter) error {
	if m.ctx.Err() != nil {
		return ErrClosed
	}

	active := m.active.Load()
	s := newSession(m.ctx, trigger, active.cfg, active.guard, m.deps.Clock.Now())
	if !m.current.CompareAndSwap(nil, s) {
		s.release()
		metrics.BackupsRejected.Inc()
		return ErrAlreadyInProgress
	}
	metrics.SetBackupInProgress(true)

	m.log.Info().
		Str("backup_id", s.id).
		Str("trigger", string(trigger)).
		Str("strategy", s.cfg.Quiesce.Strategy).
		Msg("Backup started")

	m.deps.Tasks.Submit("backup:"+s.id, func() {
		m.run(s, reply)
	})
	return nil
}

// Abort cancels the live backup's snapshot. Repeated calls are harmless.
// Once the snapshot is complete the request is recorded but has no effect.
func (m *Manager) Abort() error {
	s := m.current.Load()
	if s == nil {
		return ErrNothingToAbort
	}

	if s.abort() {
		m.log.Warn().Str("backup_id", s.id).Stringer("state", s.State()).Msg("Backup abort requested")
	}
	return nil
}

// Inquire returns the live backup's progress without blocking it.
func (m *Manager) Inquire() Progress {
	s := m.current.Load()
	if s == nil {
		return Progress{}
	}
	return s.snapshot()
}

// Running reports whether a backup is live.
func (m *Manager) Running() bool {
	return m.current.Load() != nil
}

// Reload validates cfg and makes it the configuration for the next backup.
// A live backup keeps the configuration it started with. On error the
// previous configuration stays in effect.
func (m *Manager) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is required", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	if err := os.MkdirAll(cfg.Backup.BackupDir, 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	prev := m.active.Load()
	old := prev.cfg
	next := &activeConfig{cfg: cfg, guard: prev.guard}
	if old.Transfer.Protocol != cfg.Transfer.Protocol || old.Transfer.Endpoint() != cfg.Transfer.Endpoint() {
		next.guard = m.newGuard(cfg.Transfer)
		m.log.Info().
			Str("protocol", cfg.Transfer.Protocol).
			Str("endpoint", cfg.Transfer.Endpoint()).
			Msg("Transfer endpoint changed")
	}
	if old.Backup.BackupDir != cfg.Backup.BackupDir {
		m.history.setPath(filepath.Join(cfg.Backup.BackupDir, HistoryFile))
	}

	m.active.Store(next)
	if m.Running() {
		m.log.Info().Msg("Configuration reloaded, takes effect after the running backup")
	} else {
		m.log.Info().Msg("Configuration reloaded")
	}
	return nil
}

// TestConnection connects to the configured endpoint and disconnects.
func (m *Manager) TestConnection(ctx context.Context) error {
	active := m.active.Load()
	cfg := active.cfg
	client, err := m.deps.NewClient(cfg.Transfer)
	if err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrConnection, err)
	}

	err = active.guard.Connect(ctx, client)
	metrics.RecordTransfer(client.Protocol(), "connect", err)
	if err != nil {
		return err
	}
	client.Disconnect()

	m.log.Info().
		Str("protocol", client.Protocol()).
		Str("endpoint", cfg.Transfer.Endpoint()).
		Msg("Connection test succeeded")
	return nil
}

// History returns up to limit finished backups, newest first.
func (m *Manager) History(limit int) []Record {
	return m.history.list(limit)
}

// LastStatus returns the status of the most recent finished backup.
func (m *Manager) LastStatus() (Status, bool) {
	s := m.last.Load()
	if s == nil {
		return Status{}, false
	}
	return *s, true
}

// Close rejects new backups and cancels the live one with ErrClosed, which
// is reported as a failure rather than an operator abort. The pipeline still
// unwinds through resume and retention on its task.
func (m *Manager) Close() {
	m.cancel(ErrClosed)
}
