// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/offsite/internal/config"
	"github.com/tomtom215/offsite/internal/logging"
)

// GuardSettings tunes connect retries and the circuit breaker.
type GuardSettings struct {
	Attempts         int
	Delay            time.Duration
	MaxDelay         time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Clock            clock.Clock
}

// SettingsFor derives guard settings from transfer configuration.
func SettingsFor(cfg config.TransferConfig) GuardSettings {
	return GuardSettings{
		Attempts:         max(cfg.ConnectAttempts, 1),
		Delay:            cfg.ConnectRetryDelay,
		MaxDelay:         30 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
	}
}

// Guard retries connects and stops hammering an endpoint that keeps
// failing. One Guard exists per endpoint; it is rebuilt when the endpoint
// changes.
type Guard struct {
	endpoint string
	settings GuardSettings
	cb       *gobreaker.CircuitBreaker[struct{}]
	log      zerolog.Logger

	// OnStateChange, if set, observes breaker transitions.
	OnStateChange func(endpoint string, from, to gobreaker.State)
}

// NewGuard creates a Guard for endpoint.
func NewGuard(endpoint string, settings GuardSettings) *Guard {
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}
	if settings.Delay <= 0 {
		settings.Delay = 10 * time.Millisecond
	}
	if settings.Clock == nil {
		settings.Clock = clock.WallClock
	}

	g := &Guard{
		endpoint: endpoint,
		settings: settings,
		log:      logging.Component("transfer").With().Str("endpoint", endpoint).Logger(),
	}
	g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "transfer:" + endpoint,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return settings.FailureThreshold > 0 && counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			g.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Transfer circuit breaker state changed")
			if g.OnStateChange != nil {
				g.OnStateChange(endpoint, from, to)
			}
		},
	})
	return g
}

// Endpoint returns the host:port this guard protects.
func (g *Guard) Endpoint() string { return g.endpoint }

// State returns the breaker state.
func (g *Guard) State() gobreaker.State { return g.cb.State() }

// Connect calls c.Connect through the breaker, retrying transient failures.
// An open breaker fails immediately with ErrConnection.
func (g *Guard) Connect(ctx context.Context, c Client) error {
	if g.cb.State() == gobreaker.StateOpen {
		return g.rejected(gobreaker.ErrOpenState)
	}

	// last keeps the closure's own error; the retry package does not
	// preserve the wrap chain of the errors it returns.
	var last error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			_, last = g.cb.Execute(func() (struct{}, error) {
				return struct{}{}, c.Connect(ctx)
			})
			return last
		},
		IsFatalError: func(err error) bool {
			return isBreakerRejection(err) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			g.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", g.settings.Attempts).Msg("Connect attempt failed")
		},
		Attempts:    g.settings.Attempts,
		Delay:       g.settings.Delay,
		MaxDelay:    g.settings.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       g.settings.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	switch {
	case isBreakerRejection(last):
		return g.rejected(last)
	case last == nil:
		last = err
	}
	if errors.Is(last, ErrConnection) {
		return last
	}
	return fmt.Errorf("%w: %w", ErrConnection, last)
}

func (g *Guard) rejected(err error) error {
	return fmt.Errorf("%w: circuit open for %s: %w", ErrConnection, g.endpoint, err)
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
