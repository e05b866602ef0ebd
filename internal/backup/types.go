// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"time"

	"github.com/tomtom215/warehousevault/internal/ledger"
)

// BackupRequest asks for one backup job.
type BackupRequest struct {
	Type ledger.BackupType `json:"type" validate:"required,oneof=full incremental differential snapshot selective"`

	// Kinds restricts the backup to these record kinds. Required for
	// selective backups; empty means all kinds otherwise.
	Kinds []string `json:"kinds,omitempty"`

	// Encrypt defaults to Config.EncryptByDefault when nil.
	Encrypt *bool `json:"encrypt,omitempty"`

	// Upload sends the artifact to the remote store.
	Upload bool `json:"upload"`

	// Verify defaults to Config.VerifyByDefault when nil.
	Verify *bool `json:"verify,omitempty"`

	// RetentionDays overrides the policy window for this backup when > 0.
	RetentionDays int `json:"retention_days,omitempty" validate:"gte=0,lte=3650"`

	Principal string         `json:"-"`
	Trigger   ledger.Trigger `json:"-"`
}

// RestoreRequest asks for one restore job.
type RestoreRequest struct {
	BackupID string `json:"backup_id" validate:"required"`

	// Kinds restricts the restore; empty restores every kind in the backup.
	Kinds []string `json:"kinds,omitempty"`

	DryRun bool `json:"dry_run"`

	// RollbackOnFailure takes a safety snapshot before writing and restores
	// it if the restore fails after writes began.
	RollbackOnFailure bool `json:"rollback_on_failure"`

	// PointInTime skips rows modified after this instant.
	PointInTime *time.Time `json:"point_in_time,omitempty"`

	Principal string         `json:"-"`
	Trigger   ledger.Trigger `json:"-"`
}

// Bool returns a pointer to v, for the optional request flags.
func Bool(v bool) *bool { return &v }

// VerificationResult is the outcome of an on-demand integrity check.
type VerificationResult struct {
	BackupID  string    `json:"backup_id"`
	Valid     bool      `json:"valid"`
	Expected  string    `json:"expected_checksum"`
	Actual    string    `json:"actual_checksum,omitempty"`
	Source    string    `json:"source"`
	Manifest  *Manifest `json:"manifest,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// SweepResult reports one retention sweep.
type SweepResult struct {
	RetentionDays int `json:"retention_days"`

	// Deleted lists backups removed from disk, remote, and the ledger.
	Deleted []string `json:"deleted"`

	// LocalPruned lists backups whose local file was removed while the
	// remote copy is retained longer.
	LocalPruned []string `json:"local_pruned"`

	// Kept counts restorable backups left in place.
	Kept int `json:"kept"`

	FreedBytes  int64     `json:"freed_bytes"`
	Errors      []string  `json:"errors,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// TypeStats aggregates backups of one type.
type TypeStats struct {
	Count      int   `json:"count"`
	Successful int   `json:"successful"`
	TotalSize  int64 `json:"total_size_bytes"`
}

// Stats aggregates backup history.
type Stats struct {
	TotalBackups    int     `json:"total_backups"`
	Successful      int     `json:"successful"`
	Verified        int     `json:"verified"`
	Failed          int     `json:"failed"`
	Running         int     `json:"running"`
	SuccessRate     float64 `json:"success_rate"`
	LocalOnly       int     `json:"local_only"`
	TotalSizeBytes  int64   `json:"total_size_bytes"`
	AverageSize     int64   `json:"average_size_bytes"`
	TotalRecords    int64   `json:"total_records"`
	AvgCompression  float64 `json:"average_compression_ratio"`
	AverageDuration float64 `json:"average_duration_seconds"`

	ByType map[ledger.BackupType]*TypeStats `json:"by_type"`

	LastSuccessful *time.Time `json:"last_successful,omitempty"`
	LastVerified   *time.Time `json:"last_verified,omitempty"`
	OldestBackup   *time.Time `json:"oldest_backup,omitempty"`
	NewestBackup   *time.Time `json:"newest_backup,omitempty"`
	NextScheduled  *time.Time `json:"next_scheduled,omitempty"`
}

// FailureSummary is one failed job in a report.
type FailureSummary struct {
	ID        string               `json:"id"`
	Type      ledger.BackupType    `json:"backup_type"`
	CreatedAt time.Time            `json:"created_at"`
	Reason    ledger.FailureReason `json:"failure_reason"`
	Error     string               `json:"error_message"`
}

// Report summarizes a period of backup activity.
type Report struct {
	PeriodDays      int              `json:"period_days"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Stats           *Stats           `json:"stats"`
	RecentFailures  []FailureSummary `json:"recent_failures"`
	Recommendations []string         `json:"recommendations"`
}

// JobStatus is get_status for either kind of job.
type JobStatus struct {
	Kind    string             `json:"kind"`
	Backup  *ledger.BackupJob  `json:"backup,omitempty"`
	Restore *ledger.RestoreJob `json:"restore,omitempty"`
}

// Job kinds for JobStatus.
const (
	JobKindBackup  = "backup"
	JobKindRestore = "restore"
)
