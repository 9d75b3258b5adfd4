// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package backup runs the snapshot lifecycle: quiesce the server, archive
// its directory, resume it, upload the artifact and prune local copies.
//
// # Sessions
//
// At most one backup runs at a time. The Manager holds the live session in
// an atomic pointer and claims it with a compare-and-swap, so two
// near-simultaneous MakeBackup calls never both proceed; the loser gets
// ErrAlreadyInProgress. The session is cleared only after the pipeline has
// fully unwound.
//
// # Pipeline
//
//	QUIESCING -> SNAPSHOTTING -> RESUMING -> TRANSFERRING -> RETAINING -> IDLE
//
// Resume is deferred around quiesce and snapshot, and retention is deferred
// around the whole pipeline, so both run on every exit path including abort
// and panic. Transfer failures keep the local artifact.
//
// # Quiesce Strategies
//
//	stop - stop the server through process.Controller and restart it afterwards
//	save - send save-off/save-all, wait for the saved pattern on the console,
//	       then send save-on
//
// Both waits are bounded. Expiry is a normal failure outcome.
//
// # Abort
//
// Abort cancels the session's snapshot context with archive.ErrAborted.
// The archive builder checks it between files and removes its partial
// output. Once the snapshot is complete, abort is recorded but has no
// effect; uploads are never preempted.
//
// # Configuration
//
// The Manager keeps the configuration in an atomic pointer. A session
// captures the pointer when it starts, so Reload only affects the next
// backup.
//
// # Usage
//
//	mgr, err := backup.NewManager(cfg, backup.Deps{
//		Tasks:      runner,
//		Controller: controller,
//		Console:    proc,
//	})
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	err = mgr.MakeBackup(backup.TriggerManual, backup.ReporterFunc(func(s backup.Status) {
//		fmt.Println(s.Message())
//	}))
//	if errors.Is(err, backup.ErrAlreadyInProgress) {
//		// try later
//	}
package backup
