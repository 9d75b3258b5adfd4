// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
pipeline.go - Backup Pipeline

This file contains the stages of one backup. run is the task body; each
exit path unwinds through the same deferred steps:

	run
	  snapshot
	    quiesce            (state QUIESCING)
	    count + build      (state SNAPSHOTTING)
	    defer resume       (state RESUMING)
	  transfer             (state TRANSFERRING)
	  defer retain         (state RETAINING)
	  defer finish         (history, metrics, release, report)

Quiesce and snapshot run under the session's abortable context. Transfer
runs under the Manager's context, so an abort requested during upload is
recorded but does not interrupt it.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/tomtom215/offsite/internal/archive"
	"github.com/tomtom215/offsite/internal/metrics"
	"github.com/tomtom215/offsite/internal/transfer"
)

// resumeTimeout bounds the resume step. Resume must run even when the
// Manager is closing, so it does not inherit the Manager's context.
const resumeTimeout = 30 * time.Second

func (m *Manager) run(s *session, reply Reporter) {
	st := &Status{ID: s.id, Trigger: s.trigger, StartedAt: s.startedAt}

	var err error
	defer func() { m.finish(s, st, err, reply) }()
	defer func() { m.retain(s, st) }()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backup pipeline panicked: %v", r)
			m.log.Error().
				Str("backup_id", s.id).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Backup pipeline panicked")
		}
		if err != nil && st.StateReached == StateIdle {
			st.StateReached = s.State()
		}
	}()

	var art *archive.Artifact
	art, err = m.snapshot(s, st)
	if err != nil {
		return
	}
	err = m.transfer(s, art, st)
}

// snapshot quiesces the server, builds the archive and resumes the server.
func (m *Manager) snapshot(s *session, st *Status) (art *archive.Artifact, err error) {
	cfg := s.cfg

	s.setState(StateQuiescing)
	q, err := newQuiescer(cfg.Quiesce, m.deps.Controller, m.deps.Console)
	if err != nil {
		st.StateReached = StateQuiescing
		return nil, err
	}

	defer func() {
		if err != nil {
			st.StateReached = s.State()
		}
		s.setState(StateResuming)

		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		defer cancel()
		if rerr := q.Resume(ctx); errors.Is(rerr, ErrServerUnsupervised) {
			m.log.Warn().Str("backup_id", s.id).Msg("Server is not supervised, nothing to restart")
			return
		} else if rerr != nil {
			m.log.Error().Err(rerr).Str("backup_id", s.id).Msg("Failed to resume server")
			return
		}
		m.log.Info().Str("backup_id", s.id).Msg("Server resumed")
	}()

	started := time.Now()
	err = q.Quiesce(s.snapCtx)
	metrics.RecordQuiesce(cfg.Quiesce.Strategy, time.Since(started), err)
	if err != nil {
		return nil, fmt.Errorf("quiesce failed: %w", err)
	}
	m.log.Info().
		Str("backup_id", s.id).
		Dur("took", time.Since(started)).
		Msg("Server quiesced")

	s.setState(StateSnapshotting)
	excludes := m.excludes(cfg.Backup.ServerDir, cfg.Backup.BackupDir, cfg.Backup.ExcludePatterns)

	builder := archive.NewBuilder(cfg.Backup.CompressionLevel)
	builder.OnFile = func(_ string, size int64) {
		metrics.RecordArchivedFile(size)
	}

	total, err := builder.Count(cfg.Backup.ServerDir, excludes)
	if err != nil {
		return nil, err
	}
	s.progress.Reset(total)

	out := filepath.Join(cfg.Backup.BackupDir, archive.ArtifactName(m.deps.Clock.Now()))
	art, err = builder.Build(s.snapCtx, cfg.Backup.ServerDir, excludes, out, &s.progress)
	if err != nil {
		return nil, err
	}

	st.ArtifactPath = art.Path
	st.ArtifactSize = art.Size
	st.Files = art.Files
	metrics.ArtifactSize.Set(float64(art.Size))
	return art, nil
}

// excludes adds the backup directory to the patterns when it lives inside
// the server directory.
func (m *Manager) excludes(serverDir, backupDir string, patterns []string) []string {
	absServer, err1 := filepath.Abs(serverDir)
	absBackup, err2 := filepath.Abs(backupDir)
	if err1 != nil || err2 != nil {
		return patterns
	}
	rel, err := filepath.Rel(absServer, absBackup)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return patterns
	}

	out := make([]string, 0, len(patterns)+1)
	out = append(out, patterns...)
	return append(out, filepath.ToSlash(rel))
}

// transfer uploads the artifact. The local file is kept whatever happens.
func (m *Manager) transfer(s *session, art *archive.Artifact, st *Status) error {
	s.setState(StateTransferring)
	tc := s.cfg.Transfer

	client, err := m.deps.NewClient(tc)
	if err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrConnection, err)
	}

	err = s.guard.Connect(m.ctx, client)
	metrics.RecordTransfer(client.Protocol(), "connect", err)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	started := time.Now()
	err = client.Upload(m.ctx, art.Path)
	metrics.RecordTransfer(client.Protocol(), "upload", err)
	if err != nil {
		if !errors.Is(err, transfer.ErrUpload) && !errors.Is(err, transfer.ErrNotConnected) {
			err = fmt.Errorf("%w: %w", transfer.ErrUpload, err)
		}
		return err
	}

	st.Uploaded = true
	st.Remote = fmt.Sprintf("%s://%s%s", client.Protocol(), tc.Endpoint(), path.Join("/", tc.RemotePath, art.Name()))
	m.log.Info().
		Str("backup_id", s.id).
		Str("artifact", art.Name()).
		Str("remote", st.Remote).
		Dur("took", time.Since(started)).
		Msg("Backup uploaded")
	return nil
}

// retain prunes local artifacts. An artifact that was built but not
// uploaded is never pruned by its own backup.
func (m *Manager) retain(s *session, st *Status) {
	s.setState(StateRetaining)

	protect := ""
	if st.ArtifactPath != "" && !st.Uploaded {
		protect = st.ArtifactPath
	}

	removed, err := Retain(s.cfg.Backup.BackupDir, s.cfg.Backup.KeepLocalBackups, protect)
	if err != nil {
		m.log.Error().Err(err).Str("backup_id", s.id).Msg("Retention failed")
		return
	}
	if len(removed) > 0 {
		metrics.RetentionRemoved.Add(float64(len(removed)))
	}
}

// finish records the outcome, releases the session and reports.
func (m *Manager) finish(s *session, st *Status, err error, reply Reporter) {
	st.Err = err
	st.Outcome = outcomeFor(err)
	st.FinishedAt = m.deps.Clock.Now()
	if st.StateReached == StateIdle {
		st.StateReached = s.State()
	}

	if herr := m.history.add(st.Record()); herr != nil {
		m.log.Warn().Err(herr).Msg("Failed to persist backup history")
	}
	final := *st
	m.last.Store(&final)
	metrics.RecordBackup(string(st.Trigger), string(st.Outcome), st.Duration())

	event := m.log.Info()
	switch st.Outcome {
	case OutcomeAborted:
		event = m.log.Warn()
	case OutcomeFailed:
		event = m.log.Error().Err(err).Str("error_kind", errorKind(err))
	}
	event.
		Str("backup_id", s.id).
		Str("outcome", string(st.Outcome)).
		Stringer("state_reached", st.StateReached).
		Dur("duration", st.Duration()).
		Msg(st.Message())

	s.release()
	m.current.CompareAndSwap(s, nil)
	metrics.SetBackupInProgress(false)

	if reply == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("panic", fmt.Sprint(r)).Msg("Backup reporter panicked")
		}
	}()
	reply.Report(final)
}
