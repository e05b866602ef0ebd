// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package ledger

import (
	"fmt"
	"time"
)

// BackupType selects which rows a backup captures.
type BackupType string

const (
	// TypeFull captures every row of every requested kind.
	TypeFull BackupType = "full"
	// TypeIncremental captures rows changed since the last full or incremental backup.
	TypeIncremental BackupType = "incremental"
	// TypeDifferential captures rows changed since the last full backup.
	TypeDifferential BackupType = "differential"
	// TypeSnapshot uses the source's consistent bulk export when available.
	TypeSnapshot BackupType = "snapshot"
	// TypeSelective is a full capture restricted to caller-chosen kinds.
	TypeSelective BackupType = "selective"
)

// AllBackupTypes lists every backup type in display order.
var AllBackupTypes = []BackupType{TypeFull, TypeIncremental, TypeDifferential, TypeSnapshot, TypeSelective}

// ParseBackupType validates s.
func ParseBackupType(s string) (BackupType, error) {
	for _, t := range AllBackupTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid backup type %q (want full, incremental, differential, snapshot or selective)", s)
}

// BackupStatus is a state of the backup state machine:
//
//	pending -> running -> completed | failed
//	running -> verifying -> verified | failed
type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupRunning   BackupStatus = "running"
	BackupVerifying BackupStatus = "verifying"
	BackupVerified  BackupStatus = "verified"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s BackupStatus) Terminal() bool {
	return s == BackupCompleted || s == BackupVerified || s == BackupFailed
}

// Restorable reports whether a backup in this status may be restored.
func (s BackupStatus) Restorable() bool {
	return s == BackupCompleted || s == BackupVerified
}

// RestoreStatus is a state of the restore state machine:
//
//	pending -> running -> validated (dry run)
//	running -> validating -> completed | failed
//	running -> failed
type RestoreStatus string

const (
	RestorePending    RestoreStatus = "pending"
	RestoreRunning    RestoreStatus = "running"
	RestoreValidating RestoreStatus = "validating"
	RestoreValidated  RestoreStatus = "validated"
	RestoreCompleted  RestoreStatus = "completed"
	RestoreFailed     RestoreStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s RestoreStatus) Terminal() bool {
	return s == RestoreValidated || s == RestoreCompleted || s == RestoreFailed
}

// Trigger records what started a job.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerScheduled  Trigger = "scheduled"
	TriggerPreRestore Trigger = "pre_restore"
	TriggerRollback   Trigger = "rollback"
)

// FailureReason is a stable machine-readable cause for failed jobs.
type FailureReason string

const (
	ReasonCancelled        FailureReason = "cancelled"
	ReasonIntegrity        FailureReason = "integrity_failure"
	ReasonKeyUnavailable   FailureReason = "key_unavailable"
	ReasonCollection       FailureReason = "collection_partial_failure"
	ReasonValidation       FailureReason = "validation_failure"
	ReasonRemoteDownload   FailureReason = "remote_download_failure"
	ReasonRollbackSnapshot FailureReason = "rollback_snapshot_failure"
	ReasonApply            FailureReason = "apply_failure"
	ReasonInterrupted      FailureReason = "interrupted"
	ReasonInternal         FailureReason = "internal"
)

// BackupJob is one attempted backup.
type BackupJob struct {
	// ID is the opaque unique identifier (UUID).
	ID string `json:"id"`

	// Type is the requested backup type.
	Type BackupType `json:"backup_type"`

	// Status is the current state machine state.
	Status BackupStatus `json:"status"`

	// Trigger records what started the job.
	Trigger Trigger `json:"trigger"`

	// Principal is the user or service that requested the job.
	Principal string `json:"principal,omitempty"`

	// TargetKinds are the requested kinds; empty means all.
	TargetKinds []string `json:"target_record_kinds,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// AnchorJobID and Since describe the incremental/differential anchor.
	AnchorJobID string     `json:"anchor_job_id,omitempty"`
	Since       *time.Time `json:"since,omitempty"`

	// FellBackToFull is set when an incremental or differential backup had
	// no anchor, or a snapshot had no native export, and ran as full.
	FellBackToFull bool `json:"fell_back_to_full,omitempty"`

	// IncrementalFallbacks lists kinds captured in full because they carry
	// no last-modified marker.
	IncrementalFallbacks []string `json:"incremental_fallbacks,omitempty"`

	// ArtifactLocation is the local path of the final artifact. Cleared when
	// the sweeper removes the local copy of a remote-retained backup.
	ArtifactLocation string `json:"artifact_location,omitempty"`

	// ManifestLocation is the unencrypted manifest stored beside the artifact.
	ManifestLocation string `json:"manifest_location,omitempty"`

	// RemoteLocation is the object store URI; empty means local-only.
	RemoteLocation string `json:"remote_location,omitempty"`

	// StorageBackend is the remote backend requested ("local" means none).
	StorageBackend string `json:"storage_backend"`

	// Checksum is the hex SHA-256 of the compressed container before encryption.
	Checksum string `json:"checksum,omitempty"`

	Encrypted        bool   `json:"encrypted"`
	EncryptionKeyRef string `json:"encryption_key_ref,omitempty"`
	Compression      string `json:"compression"`

	// SizeBytes is the size of the final artifact on disk.
	SizeBytes         int64   `json:"size_bytes"`
	UncompressedBytes int64   `json:"uncompressed_bytes"`
	CompressionRatio  float64 `json:"compression_ratio"`

	RecordCount int64            `json:"record_count"`
	KindCounts  map[string]int64 `json:"per_kind_counts,omitempty"`

	// RetentionDays overrides the sweeper's default window when > 0.
	RetentionDays int `json:"retention_days"`

	// VerifyRequested inserts the verifying step before the terminal state.
	VerifyRequested bool `json:"verify_requested"`

	ProducerVersion string `json:"producer_version,omitempty"`

	ErrorMessage  string        `json:"error_message,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Duration returns running time, or zero before completion.
func (j *BackupJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy.
func (j *BackupJob) Clone() *BackupJob {
	c := *j
	c.TargetKinds = append([]string(nil), j.TargetKinds...)
	c.IncrementalFallbacks = append([]string(nil), j.IncrementalFallbacks...)
	if j.KindCounts != nil {
		c.KindCounts = make(map[string]int64, len(j.KindCounts))
		for k, v := range j.KindCounts {
			c.KindCounts[k] = v
		}
	}
	return &c
}

// KindPlan is the dry-run outcome for one kind.
type KindPlan struct {
	// Mode is "replace" for complete captures and "merge" for deltas.
	Mode      string `json:"mode"`
	Create    int64  `json:"create"`
	Update    int64  `json:"update"`
	Delete    int64  `json:"delete"`
	Unchanged int64  `json:"unchanged"`
	Skipped   int64  `json:"skipped_point_in_time,omitempty"`
}

// Changes is the number of rows the restore would write or remove.
func (p KindPlan) Changes() int64 {
	return p.Create + p.Update + p.Delete
}

// ValidationCheck is one post-restore check.
type ValidationCheck struct {
	Kind     string `json:"kind"`
	Check    string `json:"check"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// ValidationReport collects post-restore checks.
type ValidationReport struct {
	Passed bool              `json:"passed"`
	Checks []ValidationCheck `json:"checks"`
}

// RestoreJob is one attempted restore of exactly one backup.
type RestoreJob struct {
	ID          string        `json:"id"`
	BackupJobID string        `json:"backup_job_ref"`
	Status      RestoreStatus `json:"status"`
	Trigger     Trigger       `json:"trigger"`
	Principal   string        `json:"principal,omitempty"`

	// TargetKinds empty means every kind in the backup.
	TargetKinds []string `json:"target_record_kinds,omitempty"`

	DryRun            bool       `json:"dry_run"`
	RollbackOnFailure bool       `json:"rollback_on_failure"`
	PointInTime       *time.Time `json:"point_in_time,omitempty"`

	// RollbackBackupID is the safety snapshot taken before destructive writes.
	RollbackBackupID string `json:"rollback_backup_ref,omitempty"`

	// RollbackRequired is set when the restore failed after writes began.
	RollbackRequired bool `json:"rollback_required"`

	// RolledBack is set when the safety snapshot was restored automatically.
	RolledBack        bool   `json:"rolled_back"`
	RollbackRestoreID string `json:"rollback_restore_ref,omitempty"`

	RecordsRestored int64               `json:"records_restored"`
	KindsRestored   map[string]int64    `json:"records_restored_per_kind,omitempty"`
	Plan            map[string]KindPlan `json:"plan,omitempty"`
	Validation      *ValidationReport   `json:"validation,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage  string        `json:"error_message,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy.
func (j *RestoreJob) Clone() *RestoreJob {
	c := *j
	c.TargetKinds = append([]string(nil), j.TargetKinds...)
	if j.KindsRestored != nil {
		c.KindsRestored = make(map[string]int64, len(j.KindsRestored))
		for k, v := range j.KindsRestored {
			c.KindsRestored[k] = v
		}
	}
	if j.Plan != nil {
		c.Plan = make(map[string]KindPlan, len(j.Plan))
		for k, v := range j.Plan {
			c.Plan[k] = v
		}
	}
	if j.Validation != nil {
		v := *j.Validation
		v.Checks = append([]ValidationCheck(nil), j.Validation.Checks...)
		c.Validation = &v
	}
	return &c
}
