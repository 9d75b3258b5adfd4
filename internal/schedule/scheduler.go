// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
Package schedule fires the backup job from a cron expression.

Expressions use the standard five-field grammar (minute hour dom month dow),
an optional leading seconds field, or a descriptor such as @daily or
@every 6h. At most one cron instance is live per Scheduler: Swap and Apply
stop the old instance, and wait for it, before a new one starts.

The job itself is expected to return quickly. A fire that overlaps a backup
still in flight is rejected by the backup manager, not queued here.
*/
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

var (
	// ErrInvalidSchedule is returned for malformed cron expressions.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates expr.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// Scheduler owns one cron instance running a single job.
type Scheduler struct {
	job func()
	log zerolog.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	expr  string
	entry cron.EntryID
}

// New creates a stopped Scheduler for job.
func New(job func()) *Scheduler {
	return &Scheduler{
		job: job,
		log: logging.Component("scheduler"),
	}
}

// Start begins firing on expr.
func (s *Scheduler) Start(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyRunning
	}
	return s.startLocked(expr)
}

func (s *Scheduler) startLocked(expr string) error {
	sched, err := Parse(expr)
	if err != nil {
		return err
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	s.entry = c.Schedule(sched, cron.FuncJob(s.job))
	s.cron = c
	s.expr = expr
	c.Start()

	s.log.Info().Str("cron", expr).Time("next", sched.Next(time.Now())).Msg("Schedule started")
	return nil
}

// Stop halts firing and waits for a job already running to return. Calling
// it on a stopped Scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info().Str("cron", s.expr).Msg("Schedule stopped")
	s.cron = nil
	s.expr = ""
	s.entry = 0
}

// Swap replaces the running expression. A malformed expr leaves the current
// schedule untouched.
func (s *Scheduler) Swap(expr string) error {
	if _, err := Parse(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return s.startLocked(expr)
}

// Apply reconciles the scheduler with the enabled flag and expression from
// a configuration reload.
func (s *Scheduler) Apply(enabled bool, expr string) error {
	if !enabled {
		s.Stop()
		return nil
	}
	if _, err := Parse(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.expr == expr {
		return nil
	}
	s.stopLocked()
	return s.startLocked(expr)
}

// Running reports whether the scheduler is firing.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Expr returns the active expression, or "" when stopped.
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Next returns the next fire time.
func (s *Scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}, false
	}
	entry := s.cron.Entry(s.entry)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if entry.Next.IsZero() {
		return entry.Schedule.Next(time.Now()), true
	}
	return entry.Next, true
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
