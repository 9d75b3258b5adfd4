// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package tasks runs fire-and-forget background work with crash isolation.
//
// Every submitted function runs on its own goroutine. A panic inside the
// function is recovered and logged, and the task always removes itself from
// the tracked set when it returns. Shutdown drains the tracked set with a
// per-task bound; it is a best-effort drain, not a completion guarantee.
package tasks

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

// task is one tracked goroutine.
type task struct {
	id      uint64
	name    string
	started time.Time
	done    chan struct{}
}

// Runner tracks background tasks.
type Runner struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]*task
	log    zerolog.Logger
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		active: make(map[uint64]*task),
		log:    logging.Component("tasks"),
	}
}

// Submit runs fn on a new goroutine. The returned channel is closed once fn
// has returned or panicked.
func (r *Runner) Submit(name string, fn func()) <-chan struct{} {
	r.mu.Lock()
	r.nextID++
	t := &task{
		id:      r.nextID,
		name:    name,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	r.active[t.id] = t
	r.mu.Unlock()

	go r.run(t, fn)
	return t.done
}

func (r *Runner) run(t *task, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("task", t.name).
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("Background task panicked")
		}

		r.mu.Lock()
		delete(r.active, t.id)
		r.mu.Unlock()
		close(t.done)

		r.log.Debug().
			Str("task", t.name).
			Dur("elapsed", time.Since(t.started)).
			Msg("Background task finished")
	}()

	fn()
}

// Len reports the number of tasks that have not finished yet.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown waits up to perTask for each task still running, then clears the
// tracked set. It returns the number of tasks that did not finish in time.
func (r *Runner) Shutdown(perTask time.Duration) int {
	r.mu.Lock()
	pending := make([]*task, 0, len(r.active))
	for _, t := range r.active {
		pending = append(pending, t)
	}
	r.mu.Unlock()

	abandoned := 0
	for _, t := range pending {
		timer := time.NewTimer(perTask)
		select {
		case <-t.done:
		case <-timer.C:
			abandoned++
			r.log.Warn().
				Str("task", t.name).
				Dur("waited", perTask).
				Msg("Background task did not finish before shutdown")
		}
		timer.Stop()
	}

	r.mu.Lock()
	clear(r.active)
	r.mu.Unlock()

	return abandoned
}
