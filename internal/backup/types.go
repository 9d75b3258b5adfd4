// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
types.go - Backup Data Types

This file defines the values the Manager exposes to callers:

  - Trigger: what started a backup (manual, scheduled, api)
  - State: where a live backup is in its pipeline
  - Outcome: how a finished backup ended
  - Progress: a non-blocking point-in-time view of the live backup
  - Status: the terminal report delivered exactly once per backup
  - Record: the persisted form of a Status kept in history.json
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Trigger identifies what started a backup.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
)

// State is a pipeline stage of a live backup.
type State int32

const (
	StateIdle State = iota
	StateQuiescing
	StateSnapshotting
	StateResuming
	StateTransferring
	StateRetaining
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateQuiescing:    "quiescing",
	StateSnapshotting: "snapshotting",
	StateResuming:     "resuming",
	StateTransferring: "transferring",
	StateRetaining:    "retaining",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown backup state %q", string(b))
}

// Outcome is how a finished backup ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// Progress is a point-in-time view of the live backup.
type Progress struct {
	Running        bool      `json:"running"`
	ID             string    `json:"id,omitempty"`
	Trigger        Trigger   `json:"trigger,omitempty"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Total          int       `json:"total_files"`
	Processed      int       `json:"processed_files"`
	AbortRequested bool      `json:"abort_requested"`
}

// String renders the progress for operators.
func (p Progress) String() string {
	if !p.Running {
		return "no operation in progress"
	}
	s := fmt.Sprintf("backup %s is %s", p.ID, p.State)
	if p.Total > 0 {
		s += fmt.Sprintf(": %d/%d files (%d%%)", p.Processed, p.Total, p.Processed*100/p.Total)
	}
	if p.AbortRequested {
		s += ", abort requested"
	}
	return s
}

// Status is the terminal report of one backup.
type Status struct {
	ID           string
	Trigger      Trigger
	Outcome      Outcome
	StateReached State
	Err          error
	ArtifactPath string
	ArtifactSize int64
	Files        int
	Uploaded     bool
	Remote       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns the wall time of the backup.
func (s *Status) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Message renders the single human-readable line for this outcome.
func (s *Status) Message() string {
	switch s.Outcome {
	case OutcomeSucceeded:
		return fmt.Sprintf("Backup %s uploaded to %s (%s, %d files); local copy at %s",
			filepath.Base(s.ArtifactPath), s.Remote, humanize.Bytes(uint64(max(s.ArtifactSize, 0))), s.Files, s.ArtifactPath)
	case OutcomeAborted:
		return fmt.Sprintf("Backup aborted during %s; no archive was kept", s.StateReached)
	}

	switch errorKind(s.Err) {
	case "quiesce_timeout", "quiesce_signal_missing":
		return fmt.Sprintf("Backup failed: server could not be quiesced: %v", s.Err)
	case "archive_io":
		return fmt.Sprintf("Backup failed while archiving: %v", s.Err)
	case "shutdown":
		return fmt.Sprintf("Backup interrupted by shutdown during %s", s.StateReached)
	case "connection", "upload":
		return fmt.Sprintf("Backup %s could not be uploaded, local copy kept at %s: %v",
			filepath.Base(s.ArtifactPath), s.ArtifactPath, s.Err)
	default:
		return fmt.Sprintf("Backup failed during %s: %v", s.StateReached, s.Err)
	}
}

// Record converts the status into its persisted form.
func (s *Status) Record() Record {
	r := Record{
		ID:           s.ID,
		Trigger:      s.Trigger,
		Outcome:      s.Outcome,
		StateReached: s.StateReached,
		ErrorKind:    errorKind(s.Err),
		Files:        s.Files,
		Size:         s.ArtifactSize,
		Uploaded:     s.Uploaded,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		DurationMS:   s.Duration().Milliseconds(),
		Message:      s.Message(),
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	if s.ArtifactPath != "" {
		r.Artifact = filepath.Base(s.ArtifactPath)
	}
	return r
}

// Record is one entry of the backup history.
type Record struct {
	ID           string    `json:"id"`
	Trigger      Trigger   `json:"trigger"`
	Outcome      Outcome   `json:"outcome"`
	StateReached State     `json:"state_reached"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Artifact     string    `json:"artifact,omitempty"`
	Size         int64     `json:"size"`
	Files        int       `json:"files"`
	Uploaded     bool      `json:"uploaded"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMS   int64     `json:"duration_ms"`
	Message      string    `json:"message"`
}

// Reporter receives the terminal status of a backup exactly once.
type Reporter interface {
	Report(Status)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Status)

// Report calls f(s).
func (f ReporterFunc) Report(s Status) { f(s) }
