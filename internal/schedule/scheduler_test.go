// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 4 * * *", false},
		{"*/15 * * * *", false},
		{"30 0 4 * * *", false},
		{"@daily", false},
		{"@every 6h", false},
		{"", true},
		{"not a cron", true},
		{"61 * * * *", true},
		{"* * *", true},
	}

	for _, tt := range tests {
		_, err := Parse(tt.expr)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidSchedule", tt.expr, err)
			}
		} else if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.expr, err)
		}
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(func() {})
	s.Stop() // never started

	if err := s.Start("bogus"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if s.Running() {
		t.Fatal("invalid start must not leave the scheduler running")
	}

	if err := s.Start("0 4 * * *"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := s.Start("0 5 * * *"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	next, ok := s.Next()
	if !ok || next.Hour() != 4 || next.Minute() != 0 {
		t.Errorf("unexpected next fire time %v (ok=%v)", next, ok)
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Error("scheduler still running after Stop")
	}
	if _, ok := s.Next(); ok {
		t.Error("stopped scheduler should report no next fire")
	}
}

func TestSwapKeepsScheduleOnInvalidExpr(t *testing.T) {
	t.Parallel()

	s := New(func() {})
	defer s.Stop()

	if err := s.Start("0 4 * * *"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := s.Swap("nope"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if s.Expr() != "0 4 * * *" || !s.Running() {
		t.Errorf("invalid swap changed state: expr=%q running=%v", s.Expr(), s.Running())
	}

	if err := s.Swap("@hourly"); err != nil {
		t.Fatalf("Swap() failed: %v", err)
	}
	if s.Expr() != "@hourly" {
		t.Errorf("expected @hourly, got %q", s.Expr())
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	s := New(func() {})
	defer s.Stop()

	if err := s.Apply(true, "0 4 * * *"); err != nil {
		t.Fatalf("Apply(enable) failed: %v", err)
	}
	if !s.Running() {
		t.Fatal("expected running after enable")
	}
	if err := s.Apply(true, "0 4 * * *"); err != nil {
		t.Fatalf("Apply(same) failed: %v", err)
	}
	if err := s.Apply(true, "bad"); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if s.Expr() != "0 4 * * *" {
		t.Errorf("invalid apply changed expression to %q", s.Expr())
	}
	if err := s.Apply(false, "bad"); err != nil {
		t.Fatalf("Apply(disable) should ignore the expression, got %v", err)
	}
	if s.Running() {
		t.Error("expected stopped after disable")
	}
}

func TestJobFiresAndSurvivesPanic(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	s := New(func() {
		if fired.Add(1) == 1 {
			panic("first run fails")
		}
	})
	defer s.Stop()

	if err := s.Start("* * * * * *"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for fired.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if fired.Load() < 2 {
		t.Errorf("expected job to keep firing after a panic, fired %d times", fired.Load())
	}
}
