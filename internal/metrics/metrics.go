// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package metrics defines the Prometheus collectors exported on /metrics.
//
// Collectors are registered on the default registry at init through
// promauto. Callers use the Record* helpers rather than touching the
// collectors directly, so label values stay consistent.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup lifecycle
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsite_backups_total",
			Help: "Completed backup operations by trigger and outcome",
		},
		[]string{"trigger", "outcome"}, // outcome: succeeded, aborted, failed
	)

	BackupsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsite_backups_rejected_total",
			Help: "Backup requests rejected because another backup was in progress",
		},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offsite_backup_duration_seconds",
			Help:    "Wall time of backup operations from start to release",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"outcome"},
	)

	BackupInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsite_backup_in_progress",
			Help: "1 while a backup operation is live",
		},
	)

	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsite_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup",
		},
	)

	// Quiesce
	QuiesceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offsite_quiesce_duration_seconds",
			Help:    "Time spent bringing the server to a copy-safe state",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"strategy", "result"},
	)

	ServerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsite_server_running",
			Help: "1 when the supervised server is running",
		},
	)

	// Archive
	ArchivedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsite_archive_files_total",
			Help: "Files written into snapshot archives",
		},
	)

	ArchivedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsite_archive_source_bytes_total",
			Help: "Uncompressed bytes written into snapshot archives",
		},
	)

	ArtifactSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsite_artifact_size_bytes",
			Help: "Size of the most recently built artifact",
		},
	)

	// Transfer
	TransferOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsite_transfer_operations_total",
			Help: "Transfer connects and uploads by protocol and result",
		},
		[]string{"protocol", "operation", "result"},
	)

	TransferCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offsite_transfer_circuit_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// Retention
	RetentionRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offsite_retention_removed_total",
			Help: "Local artifacts deleted by retention",
		},
	)

	// Runtime
	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offsite_tasks_in_flight",
			Help: "Background tasks currently running",
		},
	)

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsite_config_reloads_total",
			Help: "Configuration reload attempts by result",
		},
		[]string{"result"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offsite_api_requests_total",
			Help: "Control API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offsite_api_request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordBackup records a finished backup operation.
func RecordBackup(trigger, outcome string, duration time.Duration) {
	BackupsTotal.WithLabelValues(trigger, outcome).Inc()
	BackupDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "succeeded" {
		LastSuccessTimestamp.SetToCurrentTime()
	}
}

// SetBackupInProgress flips the in-progress gauge.
func SetBackupInProgress(running bool) {
	BackupInProgress.Set(boolToFloat(running))
}

// RecordQuiesce records the time spent quiescing.
func RecordQuiesce(strategy string, duration time.Duration, err error) {
	QuiesceDuration.WithLabelValues(strategy, resultLabel(err)).Observe(duration.Seconds())
}

// SetServerRunning records the supervised server's run state.
func SetServerRunning(running bool) {
	ServerRunning.Set(boolToFloat(running))
}

// RecordArchivedFile records one file written to an archive.
func RecordArchivedFile(size int64) {
	ArchivedFiles.Inc()
	if size > 0 {
		ArchivedBytes.Add(float64(size))
	}
}

// RecordTransfer records a connect or upload attempt.
func RecordTransfer(protocol, operation string, err error) {
	TransferOperations.WithLabelValues(protocol, operation, resultLabel(err)).Inc()
}

// SetCircuitState records a breaker transition. state follows gobreaker's
// numbering: 0 closed, 1 half-open, 2 open.
func SetCircuitState(endpoint string, state int) {
	TransferCircuitState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordConfigReload records a reload attempt.
func RecordConfigReload(err error) {
	ConfigReloads.WithLabelValues(resultLabel(err)).Inc()
}

// RecordAPIRequest records one control API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
