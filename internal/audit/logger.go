// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/offsite/internal/logging"
)

// Config holds audit logger settings.
type Config struct {
	// BufferSize is the async write queue length.
	BufferSize int

	// LogToStdout also writes each event to the application log.
	LogToStdout bool
}

// DefaultConfig returns the defaults used for a nil Config.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:  256,
		LogToStdout: true,
	}
}

// Logger writes audit events to a Store from a background goroutine so
// request handlers never block on it.
type Logger struct {
	config    *Config
	store     Store
	log       zerolog.Logger
	eventChan chan *Event
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a Logger and starts its writer.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}

	l := &Logger{
		config:    config,
		store:     store,
		log:       logging.Component("audit"),
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.asyncWriter()
	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.config.LogToStdout {
		ev := l.log.Info()
		if event.Outcome != OutcomeSuccess {
			ev = l.log.Warn()
		}
		ev.Str("type", string(event.Type)).
			Str("outcome", string(event.Outcome)).
			Str("actor", event.Actor.Name).
			Str("role", event.Actor.Role).
			Str("action", event.Action).
			Str("ip", event.Source.IPAddress).
			Int("status", event.Status).
			Str("request_id", event.RequestID).
			Msg("Audit event")
	}

	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, event); err != nil {
		l.log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save audit event")
	}
}

// Log queues event, filling ID and Timestamp when unset. Events are dropped
// with a warning when the queue is full or the Logger is closed.
func (l *Logger) Log(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-l.stopChan:
		return
	default:
	}

	select {
	case l.eventChan <- event:
	default:
		l.log.Warn().Str("event_id", event.ID).Msg("Audit buffer full, dropping event")
	}
}

// Query reads from the underlying store.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return []Event{}, nil
	}
	return l.store.Query(ctx, filter)
}

// Close flushes queued events and stops the writer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}
