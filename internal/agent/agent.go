// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package agent wires the daemon together. It owns the configuration, the
// supervised server process, the backup manager, the scheduler and the
// task runner, and implements the operator commands on top of them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/backup"
	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
	"github.com/tomtom215/offsite/internal/metrics"
	"github.com/tomtom215/offsite/internal/process"
	"github.com/tomtom215/offsite/internal/schedule"
	"github.com/tomtom215/offsite/internal/server"
	"github.com/tomtom215/offsite/internal/tasks"
	"github.com/tomtom215/offsite/internal/transfer"
)

// Timing knobs. Variables so tests can shorten them.
var (
	// DrainTimeout bounds the wait for each background task at shutdown.
	DrainTimeout = 5 * time.Second

	// StartupTestTimeout bounds the connection test run at startup.
	StartupTestTimeout = 30 * time.Second

	// ServerPollInterval is how often the server run state is sampled.
	ServerPollInterval = 5 * time.Second
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("agent already started")

// Options customize an Agent. The zero value is production behavior.
type Options struct {
	// NewClient overrides transfer client construction.
	NewClient func(config.TransferConfig) (transfer.Client, error)

	// SkipStartupTest disables the connection test run at startup.
	SkipStartupTest bool

	// WatchConfig reloads automatically when the config file changes.
	WatchConfig bool
}

// Agent is the long-running daemon core.
type Agent struct {
	path string
	opts Options
	log  zerolog.Logger

	cfg    atomic.Pointer[config.Config]
	runner *tasks.Runner
	proc   *server.Process
	ctrl   *process.Controller
	mgr    *backup.Manager
	sched  *schedule.Scheduler

	reloadMu sync.Mutex
	started  atomic.Bool
}

// New builds an Agent from an already loaded configuration. path is the
// file Reload reads; it may be empty to reload from defaults and
// environment only.
func New(path string, cfg *config.Config, opts Options) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", config.ErrInvalid)
	}
	if cfg.Schedule.Enabled {
		if _, err := schedule.Parse(cfg.Schedule.Cron); err != nil {
			return nil, err
		}
	}

	a := &Agent{
		path:   path,
		opts:   opts,
		log:    logging.Component("agent"),
		runner: tasks.NewRunner(),
	}

	deps := backup.Deps{
		Tasks:     a.runner,
		NewClient: opts.NewClient,
	}
	if cfg.Server.Command != "" {
		a.proc = server.New(server.Options{
			Command:     cfg.Server.Command,
			Args:        cfg.Server.Args,
			WorkDir:     cfg.Server.WorkDir,
			StopCommand: cfg.Server.StopCommand,
			KillTimeout: cfg.Server.KillTimeout,
		})
		a.ctrl = process.NewController(a.proc, a.runner, nil)
		deps.Controller = a.ctrl
		deps.Console = a.proc
	} else {
		a.log.Warn().Msg("server.command is empty; the server is not supervised, backups archive without stopping it")
	}

	mgr, err := backup.NewManager(cfg, deps)
	if err != nil {
		return nil, err
	}
	a.mgr = mgr
	a.sched = schedule.New(a.scheduledBackup)
	a.cfg.Store(cfg)
	return a, nil
}

// Run starts the server, the scheduler and the background loops, and blocks
// until ctx is cancelled. It then shuts everything down in order.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	cfg := a.cfg.Load()

	if a.proc != nil && cfg.Server.Autostart {
		if err := a.proc.Start(); err != nil {
			a.log.Error().Err(err).Msg("Failed to start server")
		} else {
			a.log.Info().Str("command", cfg.Server.Command).Msg("Server started")
		}
	}

	if err := a.sched.Apply(cfg.Schedule.Enabled, cfg.Schedule.Cron); err != nil {
		a.log.Error().Err(err).Msg("Failed to start backup schedule")
	}

	if !a.opts.SkipStartupTest {
		a.runner.Submit("startup-connection-test", func() {
			testCtx, cancel := context.WithTimeout(ctx, StartupTestTimeout)
			defer cancel()
			if err := a.TestConnection(testCtx); err != nil {
				a.log.Warn().Err(err).Msg("Startup connection test failed")
			}
		})
	}

	if a.opts.WatchConfig && a.path != "" {
		a.runner.Submit("config-watch", func() {
			err := config.Watch(ctx, a.path, func() {
				if err := a.Reload(); err != nil {
					a.log.Error().Err(err).Msg("Automatic reload failed, keeping previous configuration")
				}
			})
			if err != nil {
				a.log.Error().Err(err).Msg("Config watch stopped")
			}
		})
	}

	a.log.Info().
		Str("protocol", cfg.Transfer.Protocol).
		Str("endpoint", cfg.Transfer.Endpoint()).
		Str("strategy", cfg.Quiesce.Strategy).
		Bool("schedule", cfg.Schedule.Enabled).
		Msg("Agent running")

	a.pollServer(ctx)
	a.shutdown()
	return nil
}

// pollServer samples the server run state until ctx ends.
func (a *Agent) pollServer(ctx context.Context) {
	ticker := time.NewTicker(ServerPollInterval)
	defer ticker.Stop()
	for {
		if a.ctrl != nil {
			metrics.SetServerRunning(a.ctrl.IsRunning())
		}
		metrics.TasksInFlight.Set(float64(a.runner.Len()))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Agent) shutdown() {
	a.log.Info().Msg("Agent shutting down")
	a.sched.Stop()
	a.mgr.Close()

	cfg := a.cfg.Load()
	if a.proc != nil {
		if cfg.Server.StopOnExit && a.proc.IsRunning() {
			a.stopServer(cfg.Server.KillTimeout)
		}
		if err := a.proc.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close server console")
		}
	}

	if abandoned := a.runner.Shutdown(DrainTimeout); abandoned > 0 {
		a.log.Warn().Int("abandoned", abandoned).Msg("Background tasks did not finish in time")
	}
	a.log.Info().Msg("Agent stopped")
}

// stopServer asks the server to stop and waits for it, bounded by timeout
// plus a grace period for the kill to land.
func (a *Agent) stopServer(timeout time.Duration) {
	a.log.Info().Msg("Stopping server")
	if err := a.proc.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to request server stop")
		return
	}
	deadline := time.Now().Add(timeout + 5*time.Second)
	for a.proc.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}

func (a *Agent) scheduledBackup() {
	err := a.mgr.MakeBackup(backup.TriggerScheduled, nil)
	switch {
	case err == nil:
	case errors.Is(err, backup.ErrAlreadyInProgress):
		a.log.Info().Msg("Scheduled backup skipped, another backup is in progress")
	default:
		a.log.Error().Err(err).Msg("Scheduled backup could not start")
	}
}
