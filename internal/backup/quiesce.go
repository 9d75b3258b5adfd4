// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package backup

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/tomtom215/offsite/internal/config"
)

// Controller stops and restarts the supervised server.
type Controller interface {
	SafeShutdown(ctx context.Context, continuation func())
	Restart() error
}

// Console sends commands to the server and observes its output.
type Console interface {
	Execute(line string) error
	Subscribe(ctx context.Context) (<-chan string, error)
}

// Quiescer brings the server to a state where its files can be copied
// consistently, and undoes that afterwards. Resume is called whenever
// Quiesce was called, whatever it returned.
type Quiescer interface {
	Quiesce(ctx context.Context) error
	Resume(ctx context.Context) error
}

// newQuiescer picks the strategy named in cfg.
func newQuiescer(cfg config.QuiesceConfig, ctrl Controller, console Console) (Quiescer, error) {
	switch cfg.Strategy {
	case config.StrategySave:
		if console == nil {
			return nil, fmt.Errorf("%w: save strategy requires a server console", ErrQuiesceSignalMissing)
		}
		pattern, err := regexp.Compile(cfg.SavedPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid saved_pattern: %w", err)
		}
		return &saveQuiescer{cfg: cfg, console: console, pattern: pattern}, nil
	case config.StrategyStop, "":
		if ctrl == nil {
			ctrl = unsupervised{}
		}
		return &stopQuiescer{ctrl: ctrl, timeout: cfg.StopTimeout}, nil
	default:
		return nil, fmt.Errorf("unknown quiesce strategy %q", cfg.Strategy)
	}
}

// unsupervised stands in for the controller when no server process is
// managed. The server is reported as already stopped and cannot be restarted.
type unsupervised struct{}

func (unsupervised) SafeShutdown(_ context.Context, continuation func()) { continuation() }

func (unsupervised) Restart() error { return ErrServerUnsupervised }

// stopQuiescer stops the server for the duration of the snapshot.
type stopQuiescer struct {
	ctrl    Controller
	timeout time.Duration
}

func (q *stopQuiescer) Quiesce(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	down := make(chan struct{})
	q.ctrl.SafeShutdown(waitCtx, func() { close(down) })

	select {
	case <-down:
		return nil
	case <-waitCtx.Done():
	}

	select {
	case <-down:
		return nil
	default:
	}
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted while stopping server: %w", context.Cause(ctx))
	}
	return fmt.Errorf("%w: server still running after %s", ErrQuiesceTimeout, q.timeout)
}

func (q *stopQuiescer) Resume(context.Context) error {
	return q.ctrl.Restart()
}

// saveQuiescer keeps the server up and pauses its autosave instead.
type saveQuiescer struct {
	cfg     config.QuiesceConfig
	console Console
	pattern *regexp.Regexp
}

func (q *saveQuiescer) Quiesce(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, q.cfg.SaveTimeout)
	defer cancel()

	// Subscribe before sending so the confirmation cannot be missed.
	lines, err := q.console.Subscribe(waitCtx)
	if err != nil {
		return fmt.Errorf("%w: cannot observe console: %w", ErrQuiesceSignalMissing, err)
	}

	for _, cmd := range []string{q.cfg.SaveOffCommand, q.cfg.SaveAllCommand} {
		if cmd == "" {
			continue
		}
		if err := q.console.Execute(cmd); err != nil {
			return fmt.Errorf("%w: failed to send %q: %w", ErrQuiesceSignalMissing, cmd, err)
		}
	}

	for {
		select {
		case line, ok := <-lines:
			if ok {
				if q.pattern.MatchString(line) {
					return nil
				}
				continue
			}
			if waitCtx.Err() == nil {
				return fmt.Errorf("%w: console feed closed", ErrQuiesceSignalMissing)
			}
			return q.expired(ctx)
		case <-waitCtx.Done():
			return q.expired(ctx)
		}
	}
}

func (q *saveQuiescer) expired(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted while waiting for save: %w", context.Cause(ctx))
	}
	return fmt.Errorf("%w: no line matching %q within %s", ErrQuiesceTimeout, q.pattern, q.cfg.SaveTimeout)
}

func (q *saveQuiescer) Resume(context.Context) error {
	if q.cfg.SaveOnCommand == "" {
		return nil
	}
	if err := q.console.Execute(q.cfg.SaveOnCommand); err != nil {
		return fmt.Errorf("failed to re-enable autosave: %w", err)
	}
	return nil
}
