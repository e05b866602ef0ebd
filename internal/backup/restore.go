// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
restore.go - Restore Orchestration

A restore runs:

 1. fetch the artifact (download when remote-only)
 2. decrypt into the job's work directory
 3. verify the checksum recorded in the ledger
 4. extract the manifest and data files
 5. dry run: compute the per-kind plan and stop in "validated"
 6. take a snapshot of the target kinds as the rollback point
 7. apply rows, atomically when the source supports it
 8. validate row counts and references
 9. on failure after writes began, restore the rollback point

Steps 1-4 never touch the record source, so an integrity failure aborts with
nothing written.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
)

// StartRestore validates req, records a pending restore, and runs it in the
// background.
func (m *Manager) StartRestore(ctx context.Context, req RestoreRequest) (*ledger.RestoreJob, error) {
	rj, backup, kinds, err := m.prepareRestore(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.claimScope(rj.ID, kinds); err != nil {
		return nil, err
	}
	if err := m.ledger.CreateRestore(ctx, rj); err != nil {
		m.releaseScope(rj.ID)
		return nil, fmt.Errorf("failed to record restore job: %w", err)
	}

	pending := rj.Clone()
	jobCtx, done := m.jobContext(context.WithoutCancel(ctx), rj.ID)
	go func() {
		defer m.releaseScope(rj.ID)
		defer done()
		_ = m.executeRestore(jobCtx, rj, backup, kinds)
	}()
	return pending, nil
}

// RunRestore runs a restore to completion on the caller's goroutine. The job
// is returned even when it failed.
func (m *Manager) RunRestore(ctx context.Context, req RestoreRequest) (*ledger.RestoreJob, error) {
	rj, backup, kinds, err := m.prepareRestore(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.claimScope(rj.ID, kinds); err != nil {
		return nil, err
	}
	defer m.releaseScope(rj.ID)

	if err := m.ledger.CreateRestore(ctx, rj); err != nil {
		return nil, fmt.Errorf("failed to record restore job: %w", err)
	}

	jobCtx, done := m.jobContext(ctx, rj.ID)
	defer done()
	err = m.executeRestore(jobCtx, rj, backup, kinds)
	return rj.Clone(), err
}

// runUnclaimedRestore restores inside a scope the caller already holds.
// Used to apply a rollback snapshot.
func (m *Manager) runUnclaimedRestore(ctx context.Context, req RestoreRequest) (*ledger.RestoreJob, error) {
	rj, backup, kinds, err := m.prepareRestore(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.CreateRestore(ctx, rj); err != nil {
		return nil, fmt.Errorf("failed to record restore job: %w", err)
	}
	err = m.executeRestore(logging.ContextWithJobID(ctx, rj.ID), rj, backup, kinds)
	return rj.Clone(), err
}

func (m *Manager) prepareRestore(ctx context.Context, req RestoreRequest) (*ledger.RestoreJob, *ledger.BackupJob, []records.Kind, error) {
	if req.BackupID == "" {
		return nil, nil, nil, fmt.Errorf("%w: backup_id is required", ErrInvalidRequest)
	}
	backup, err := m.ledger.GetBackup(ctx, req.BackupID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !backup.Status.Restorable() {
		return nil, nil, nil, fmt.Errorf("%w: backup %s is %s", ErrNotRestorable, backup.ID, backup.Status)
	}

	names := req.Kinds
	if len(names) == 0 {
		names = make([]string, 0, len(backup.KindCounts))
		for name := range backup.KindCounts {
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, nil, nil, fmt.Errorf("%w: backup %s contains no record kinds", ErrInvalidRequest, backup.ID)
		}
	}
	kinds, err := m.resolveKinds(names)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, k := range kinds {
		if _, ok := backup.KindCounts[k.Name]; !ok {
			return nil, nil, nil, fmt.Errorf("%w: backup %s does not contain %s", ErrInvalidRequest, backup.ID, k.Name)
		}
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = ledger.TriggerManual
	}
	var target []string
	if len(req.Kinds) > 0 {
		target = kindNames(kinds)
	}
	pit := req.PointInTime
	if pit != nil {
		t := pit.UTC()
		pit = &t
	}

	rj := &ledger.RestoreJob{
		ID:                uuid.NewString(),
		BackupJobID:       backup.ID,
		Status:            ledger.RestorePending,
		Trigger:           trigger,
		Principal:         req.Principal,
		TargetKinds:       target,
		DryRun:            req.DryRun,
		RollbackOnFailure: req.RollbackOnFailure && !req.DryRun,
		PointInTime:       pit,
		CreatedAt:         m.now().UTC(),
	}
	return rj, backup, kinds, nil
}

// executeRestore drives rj from pending to a terminal state.
func (m *Manager) executeRestore(ctx context.Context, rj *ledger.RestoreJob, backup *ledger.BackupJob, kinds []records.Kind) error {
	wctx := context.WithoutCancel(ctx)
	log := logging.Ctx(ctx).With().Str("backup_id", backup.ID).Bool("dry_run", rj.DryRun).Logger()

	started := m.now().UTC()
	rj.Status = ledger.RestoreRunning
	rj.StartedAt = &started
	if err := m.ledger.UpdateRestore(wctx, rj); err != nil {
		return fmt.Errorf("failed to mark restore running: %w", err)
	}
	m.publish(ctx, events.NewJobEvent(events.RestoreStarted, rj.ID, string(rj.Status)))
	log.Info().Strs("kinds", kindNames(kinds)).Str("trigger", string(rj.Trigger)).Msg("Restore started")

	workDir := m.cfg.WorkDir("restore-" + rj.ID)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return m.failRestore(ctx, rj, fmt.Errorf("failed to create work directory: %w", err))
	}
	defer os.RemoveAll(workDir) //nolint:errcheck // best effort

	ext, err := m.openVerifiedArtifact(ctx, backup, workDir)
	if err != nil {
		return m.failRestore(ctx, rj, err)
	}
	for _, k := range kinds {
		if !ext.Manifest.Has(k.Name) {
			return m.failRestore(ctx, rj, fmt.Errorf("%w: %s missing from artifact", ErrIntegrityFailure, k.Name))
		}
	}

	if rj.DryRun {
		if err := checkpoint(ctx, "plan"); err != nil {
			return m.failRestore(ctx, rj, err)
		}
		plan, err := m.planRestore(ctx, kinds, ext, rj.PointInTime)
		if err != nil {
			return m.failRestore(ctx, rj, err)
		}
		rj.Plan = plan
		return m.finishRestore(ctx, rj, ledger.RestoreValidated)
	}

	if rj.RollbackOnFailure {
		if err := checkpoint(ctx, "rollback snapshot"); err != nil {
			return m.failRestore(ctx, rj, err)
		}
		snap, err := m.runUnclaimedBackup(ctx, BackupRequest{
			Type:      ledger.TypeSnapshot,
			Kinds:     kindNames(kinds),
			Encrypt:   Bool(m.encryptor != nil),
			Verify:    Bool(false),
			Principal: rj.Principal,
			Trigger:   ledger.TriggerPreRestore,
		})
		if err != nil {
			return m.failRestore(ctx, rj, withReason(ledger.ReasonRollbackSnapshot,
				fmt.Errorf("rollback snapshot failed: %w", err)))
		}
		rj.RollbackBackupID = snap.ID
		if err := m.ledger.UpdateRestore(wctx, rj); err != nil {
			return m.failRestore(ctx, rj, fmt.Errorf("failed to record rollback snapshot: %w", err))
		}
		log.Info().Str("rollback_backup_id", snap.ID).Msg("Rollback snapshot taken")
	}

	if err := checkpoint(ctx, "apply"); err != nil {
		return m.failRestore(ctx, rj, err)
	}
	applied, err := m.applyRestore(ctx, rj, kinds, ext)
	if err != nil {
		return m.failAfterWrites(ctx, rj, kinds, withReason(ledger.ReasonApply, err))
	}

	rj.Status = ledger.RestoreValidating
	if err := m.ledger.UpdateRestore(wctx, rj); err != nil {
		return m.failAfterWrites(ctx, rj, kinds, err)
	}
	report := m.validateRestore(wctx, kinds, ext, applied)
	rj.Validation = report
	if !report.Passed {
		return m.failAfterWrites(ctx, rj, kinds, fmt.Errorf("%w: %s", ErrValidationFailure, failedChecks(report)))
	}
	return m.finishRestore(ctx, rj, ledger.RestoreCompleted)
}

// openVerifiedArtifact fetches, decrypts, verifies, and extracts backup.
func (m *Manager) openVerifiedArtifact(ctx context.Context, backup *ledger.BackupJob, workDir string) (*Extracted, error) {
	if err := checkpoint(ctx, "download"); err != nil {
		return nil, err
	}
	artifact, source, err := m.fetchArtifact(ctx, backup, workDir)
	if err != nil {
		return nil, err
	}

	container := artifact
	if backup.Encrypted {
		if err := checkpoint(ctx, "decrypt"); err != nil {
			return nil, err
		}
		if m.encryptor == nil {
			return nil, fmt.Errorf("%w: no key provider configured", ErrKeyUnavailable)
		}
		name := strings.TrimSuffix(path.Base(artifact), encryption.Ext)
		container, err = m.encryptor.Decrypt(ctx, artifact, backup.EncryptionKeyRef, filepath.Join(workDir, name))
		if err != nil {
			return nil, asIntegrity(err)
		}
		if source == SourceRemote {
			removeFiles([]string{artifact})
		}
	}

	ok, err := Verify(ctx, container, backup.Checksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: checksum mismatch for backup %s", ErrIntegrityFailure, backup.ID)
	}

	if err := checkpoint(ctx, "extract"); err != nil {
		return nil, err
	}
	ext, err := m.archiver.Extract(ctx, container, filepath.Join(workDir, "extract"))
	if err != nil {
		return nil, err
	}
	if ext.Manifest.BackupID != backup.ID {
		return nil, fmt.Errorf("%w: artifact belongs to backup %s", ErrIntegrityFailure, ext.Manifest.BackupID)
	}
	return ext, nil
}

// failAfterWrites records a failure once the source may have been changed,
// restoring the rollback snapshot first when one was taken.
func (m *Manager) failAfterWrites(ctx context.Context, rj *ledger.RestoreJob, kinds []records.Kind, cause error) error {
	rj.RollbackRequired = true

	if rj.RollbackOnFailure && rj.RollbackBackupID != "" {
		log := logging.Ctx(ctx).With().Str("rollback_backup_id", rj.RollbackBackupID).Logger()
		log.Warn().Err(cause).Msg("Restore failed after writes; rolling back")

		rb, err := m.runUnclaimedRestore(context.WithoutCancel(ctx), RestoreRequest{
			BackupID:  rj.RollbackBackupID,
			Kinds:     kindNames(kinds),
			Principal: rj.Principal,
			Trigger:   ledger.TriggerRollback,
		})
		if rb != nil {
			rj.RollbackRestoreID = rb.ID
		}
		if err != nil {
			metrics.RestoreRollbacks.WithLabelValues("failed").Inc()
			log.Error().Err(err).Msg("Automatic rollback failed; manual intervention required")
		} else {
			rj.RolledBack = true
			metrics.RestoreRollbacks.WithLabelValues("success").Inc()
			log.Info().Str("rollback_restore_id", rb.ID).Msg("Rolled back to pre-restore snapshot")
		}
	}
	return m.failRestore(ctx, rj, cause)
}

func (m *Manager) failRestore(ctx context.Context, rj *ledger.RestoreJob, cause error) error {
	wctx := context.WithoutCancel(ctx)
	if isCancellation(ctx, cause) && !errors.Is(cause, ErrCancelled) {
		cause = fmt.Errorf("%w: %v", ErrCancelled, cause)
	}

	completed := m.now().UTC()
	rj.Status = ledger.RestoreFailed
	rj.CompletedAt = &completed
	rj.ErrorMessage = errorMessage(cause)
	rj.FailureReason = classify(cause)
	if err := m.ledger.UpdateRestore(wctx, rj); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record restore failure")
	}

	metrics.RecordRestoreFinished(string(rj.Status))
	if rj.FailureReason == ledger.ReasonIntegrity {
		metrics.IntegrityFailures.WithLabelValues("restore").Inc()
	}

	e := events.NewJobEvent(events.RestoreFailed, rj.ID, string(rj.Status))
	e.Reason = string(rj.FailureReason)
	e.Error = rj.ErrorMessage
	e.Details = map[string]any{
		"backup_id":         rj.BackupJobID,
		"rollback_required": rj.RollbackRequired,
		"rolled_back":       rj.RolledBack,
	}
	m.publish(ctx, e)
	m.notifyRestore(rj)

	logging.Ctx(ctx).Error().
		Err(cause).
		Str("failure_reason", string(rj.FailureReason)).
		Bool("rollback_required", rj.RollbackRequired).
		Bool("rolled_back", rj.RolledBack).
		Msg("Restore failed")
	return cause
}

func (m *Manager) finishRestore(ctx context.Context, rj *ledger.RestoreJob, status ledger.RestoreStatus) error {
	completed := m.now().UTC()
	rj.Status = status
	rj.CompletedAt = &completed
	if err := m.ledger.UpdateRestore(context.WithoutCancel(ctx), rj); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record restore completion")
		return fmt.Errorf("failed to record restore completion: %w", err)
	}

	metrics.RecordRestoreFinished(string(rj.Status))
	e := events.NewJobEvent(events.RestoreCompleted, rj.ID, string(rj.Status))
	e.Details = map[string]any{
		"backup_id":        rj.BackupJobID,
		"records_restored": rj.RecordsRestored,
		"dry_run":          rj.DryRun,
	}
	m.publish(ctx, e)
	m.notifyRestore(rj)

	logging.Ctx(ctx).Info().
		Str("status", string(rj.Status)).
		Int64("records_restored", rj.RecordsRestored).
		Msg("Restore finished")
	return nil
}
