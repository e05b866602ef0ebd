// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package metrics holds the Prometheus instrumentation for backup, restore,
// retention and the HTTP trigger surface. Collectors are registered on the
// default registry at init via promauto.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup pipeline
	BackupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_backup_jobs_total",
			Help: "Backup jobs reaching a terminal state",
		},
		[]string{"type", "status"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_backup_duration_seconds",
			Help:    "Wall time of backup jobs from running to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)

	BackupStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_backup_stage_duration_seconds",
			Help:    "Wall time of individual backup pipeline stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	BackupArtifactBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_backup_artifact_bytes",
			Help:    "Size of finalized backup artifacts",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 12), // 1KiB .. 4GiB
		},
		[]string{"type"},
	)

	BackupRecordsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_backup_records_collected_total",
			Help: "Rows serialized into backup artifacts",
		},
		[]string{"kind"},
	)

	BackupIncrementalFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_backup_incremental_fallbacks_total",
			Help: "Kinds captured in full during an incremental or differential backup",
		},
		[]string{"kind"},
	)

	BackupsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_backups_running",
			Help: "Backup jobs currently in the running or verifying state",
		},
	)

	LastSuccessfulBackup = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vault_last_successful_backup_timestamp_seconds",
			Help: "Unix time of the most recent completed or verified backup",
		},
		[]string{"type"},
	)

	// Remote store
	RemoteOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_remote_operations_total",
			Help: "Remote store operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)

	RemoteBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vault_remote_breaker_state",
			Help: "Remote store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Restore
	RestoreJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_restore_jobs_total",
			Help: "Restore jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	RestoreRecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_restore_records_applied_total",
			Help: "Rows written back into the record source by restores",
		},
		[]string{"kind"},
	)

	RestoreRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_restore_rollbacks_total",
			Help: "Automatic rollbacks after a failed restore",
		},
		[]string{"result"},
	)

	IntegrityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_integrity_failures_total",
			Help: "Checksum or authentication failures detected on artifacts",
		},
		[]string{"phase"},
	)

	// Retention
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_retention_deleted_total",
			Help: "Artifacts deleted by the retention sweeper",
		},
		[]string{"location"},
	)

	RetentionFreedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_retention_freed_bytes_total",
			Help: "Local bytes reclaimed by the retention sweeper",
		},
	)

	RetentionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_retention_errors_total",
			Help: "Errors encountered while sweeping expired backups",
		},
	)

	// Record source
	RecordChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_record_changes_total",
			Help: "Record changes announced by the record source",
		},
		[]string{"kind", "op"},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "HTTP requests handled by the trigger API",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_api_request_duration_seconds",
			Help:    "HTTP request latency of the trigger API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordBackupFinished records a backup reaching a terminal status.
func RecordBackupFinished(backupType, status string, duration time.Duration, sizeBytes int64) {
	BackupJobsTotal.WithLabelValues(backupType, status).Inc()
	BackupDuration.WithLabelValues(backupType).Observe(duration.Seconds())
	if status == "completed" || status == "verified" {
		BackupArtifactBytes.WithLabelValues(backupType).Observe(float64(sizeBytes))
		LastSuccessfulBackup.WithLabelValues(backupType).SetToCurrentTime()
	}
}

// ObserveStage times one backup pipeline stage.
//
//	defer metrics.ObserveStage("archive", time.Now())
func ObserveStage(stage string, started time.Time) {
	BackupStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// RecordRemoteOperation counts one remote store call.
func RecordRemoteOperation(backend, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RemoteOperations.WithLabelValues(backend, operation, result).Inc()
}

// RecordRestoreFinished records a restore reaching a terminal status.
func RecordRestoreFinished(status string) {
	RestoreJobsTotal.WithLabelValues(status).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
