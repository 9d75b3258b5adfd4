// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package process

import (
	"math"
	"time"
)

// Backoff produces a capped exponential sequence of poll intervals.
// The zero value is not useful; start from DefaultBackoff.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	current time.Duration
}

// DefaultBackoff polls at 100ms, growing by 1.2x up to 5s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    100 * time.Millisecond,
		Multiplier: 1.2,
		Max:        5 * time.Second,
	}
}

// Next returns the next interval. The sequence never decreases and never
// exceeds Max.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = min(b.Initial, b.Max)
		return b.current
	}
	next := time.Duration(math.Round(float64(b.current) * b.Multiplier))
	b.current = max(min(next, b.Max), b.current)
	return b.current
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.current = 0
}
