// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package agent

import (
	"context"
	"reflect"
	"time"

	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/metrics"
	"github.com/tomtom215/offsite/internal/schedule"
)

// Status is the daemon overview returned by the status command.
type Status struct {
	Protocol         string          `json:"protocol"`
	Endpoint         string          `json:"endpoint"`
	Strategy         string          `json:"strategy"`
	ServerSupervised bool            `json:"server_supervised"`
	ServerRunning    bool            `json:"server_running"`
	ScheduleEnabled  bool            `json:"schedule_enabled"`
	ScheduleCron     string          `json:"schedule_cron,omitempty"`
	NextRun          *time.Time      `json:"next_run,omitempty"`
	Progress         backup.Progress `json:"progress"`
	Last             *backup.Record  `json:"last,omitempty"`
	TasksInFlight    int             `json:"tasks_in_flight"`
}

// Config returns the current configuration.
func (a *Agent) Config() *config.Config {
	return a.cfg.Load()
}

// TestConnection connects to the configured endpoint and disconnects.
func (a *Agent) TestConnection(ctx context.Context) error {
	return a.mgr.TestConnection(ctx)
}

// MakeBackup starts a backup. reply may be nil.
func (a *Agent) MakeBackup(trigger backup.Trigger, reply backup.Reporter) error {
	return a.mgr.MakeBackup(trigger, reply)
}

// Inquire returns the live backup's progress.
func (a *Agent) Inquire() backup.Progress {
	return a.mgr.Inquire()
}

// Abort cancels the live backup.
func (a *Agent) Abort() error {
	return a.mgr.Abort()
}

// History returns finished backups, newest first.
func (a *Agent) History(limit int) []backup.Record {
	return a.mgr.History(limit)
}

// Reload re-reads the configuration file and applies it. The schedule is
// validated before anything changes, so a failed reload leaves both the
// configuration and the schedule untouched.
func (a *Agent) Reload() (err error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	defer func() { metrics.RecordConfigReload(err) }()

	cfg, err := config.Load(a.path)
	if err != nil {
		return err
	}
	if cfg.Schedule.Enabled {
		if _, err = schedule.Parse(cfg.Schedule.Cron); err != nil {
			return err
		}
	}

	if err = a.mgr.Reload(cfg); err != nil {
		return err
	}
	if err = a.sched.Apply(cfg.Schedule.Enabled, cfg.Schedule.Cron); err != nil {
		return err
	}
	logging.SetLevelString(cfg.Logging.Level)

	old := a.cfg.Swap(cfg)
	if old != nil && !reflect.DeepEqual(old.Server, cfg.Server) {
		a.log.Warn().Msg("Server section changed; it takes effect after the agent restarts")
	}
	if old != nil && !reflect.DeepEqual(old.Control.Listen, cfg.Control.Listen) {
		a.log.Warn().Msg("control.listen changed; it takes effect after the agent restarts")
	}
	a.log.Info().Str("path", a.path).Msg("Configuration reloaded")
	return nil
}

// Status returns the daemon overview.
func (a *Agent) Status() Status {
	cfg := a.cfg.Load()
	st := Status{
		Protocol:         cfg.Transfer.Protocol,
		Endpoint:         cfg.Transfer.Endpoint(),
		Strategy:         cfg.Quiesce.Strategy,
		ServerSupervised: a.proc != nil,
		ScheduleEnabled:  a.sched.Running(),
		ScheduleCron:     a.sched.Expr(),
		Progress:         a.mgr.Inquire(),
		TasksInFlight:    a.runner.Len(),
	}
	if a.ctrl != nil {
		st.ServerRunning = a.ctrl.IsRunning()
	}
	if next, ok := a.sched.Next(); ok {
		st.NextRun = &next
	}
	if recent := a.mgr.History(1); len(recent) == 1 {
		st.Last = &recent[0]
	}
	return st
}
