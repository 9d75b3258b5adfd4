// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package process stops and restarts the supervised server safely.
//
// SafeShutdown never blocks its caller: the stop request and the polling
// that confirms the server is down run on a background task, and the
// continuation is invoked from there once the server reports stopped.
package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

// Server is the part of the process supervisor the controller drives.
type Server interface {
	IsRunning() bool
	Start() error
	Stop() error
}

// Submitter runs a function in the background.
type Submitter interface {
	Submit(name string, fn func()) <-chan struct{}
}

// Controller coordinates stop/start of the supervised server.
type Controller struct {
	srv     Server
	tasks   Submitter
	clock   clock.Clock
	backoff Backoff
	log     zerolog.Logger

	mu          sync.Mutex
	known       bool
	lastRunning bool
}

// NewController creates a Controller. A nil clk uses the wall clock.
func NewController(srv Server, tasks Submitter, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Controller{
		srv:     srv,
		tasks:   tasks,
		clock:   clk,
		backoff: DefaultBackoff(),
		log:     logging.Component("process"),
	}
}

// IsRunning reports the server's run state and logs transitions.
func (c *Controller) IsRunning() bool {
	running := c.srv.IsRunning()

	c.mu.Lock()
	changed := c.known && c.lastRunning != running
	c.known = true
	c.lastRunning = running
	c.mu.Unlock()

	if changed {
		c.log.Info().Bool("running", running).Msg("Server run state changed")
	}
	return running
}

// SafeShutdown stops the server if it is running, waits in the background
// until it reports stopped, then calls continuation. If ctx is cancelled
// first the continuation is never called. Errors and panics are logged,
// never returned.
func (c *Controller) SafeShutdown(ctx context.Context, continuation func()) {
	c.tasks.Submit("safe-shutdown", func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Str("panic", fmt.Sprint(r)).Msg("Safe shutdown panicked")
			}
		}()

		if !c.awaitStopped(ctx) {
			return
		}
		continuation()
	})
}

// awaitStopped issues a stop and polls with backoff. It returns false when
// ctx ends before the server is down.
func (c *Controller) awaitStopped(ctx context.Context) bool {
	if c.IsRunning() {
		c.log.Info().Msg("Stopping server")
		if err := c.srv.Stop(); err != nil {
			c.log.Error().Err(err).Msg("Failed to request server stop")
		}
	}

	b := c.backoff
	b.Reset()
	polls := 0
	for c.IsRunning() {
		wait := b.Next()
		polls++
		select {
		case <-ctx.Done():
			c.log.Warn().Err(context.Cause(ctx)).Int("polls", polls).Msg("Gave up waiting for server to stop")
			return false
		case <-c.clock.After(wait):
		}
	}

	c.log.Info().Int("polls", polls).Msg("Server is stopped")
	return true
}

// Restart starts the server only when it is not already running.
func (c *Controller) Restart() error {
	if c.IsRunning() {
		c.log.Info().Msg("Server already running, restart skipped")
		return nil
	}
	if err := c.srv.Start(); err != nil {
		return fmt.Errorf("failed to restart server: %w", err)
	}
	c.log.Info().Msg("Server restarted")
	return nil
}
