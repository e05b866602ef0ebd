// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
	"github.com/tomtom215/warehousevault/internal/records"
	"github.com/tomtom215/warehousevault/internal/remote"
)

// StorageLocal is the storage backend of backups that are not uploaded.
const StorageLocal = "local"

// StartBackup validates req, records a pending job, and runs it in the
// background. The returned job is the pending snapshot; poll GetBackup or
// register SetOnBackupComplete for the outcome.
func (m *Manager) StartBackup(ctx context.Context, req BackupRequest) (*ledger.BackupJob, error) {
	job, kinds, err := m.prepareBackup(req)
	if err != nil {
		return nil, err
	}
	if err := m.claimScope(job.ID, kinds); err != nil {
		return nil, err
	}
	if err := m.ledger.CreateBackup(ctx, job); err != nil {
		m.releaseScope(job.ID)
		return nil, fmt.Errorf("failed to record backup job: %w", err)
	}

	pending := job.Clone()
	jobCtx, done := m.jobContext(context.WithoutCancel(ctx), job.ID)
	go func() {
		defer m.releaseScope(job.ID)
		defer done()
		_ = m.executeBackup(jobCtx, job, kinds)
	}()
	return pending, nil
}

// RunBackup runs a backup to completion on the caller's goroutine. The job
// is returned even when it failed; the error then classifies the failure.
// Cancelling ctx cancels the job.
func (m *Manager) RunBackup(ctx context.Context, req BackupRequest) (*ledger.BackupJob, error) {
	job, kinds, err := m.prepareBackup(req)
	if err != nil {
		return nil, err
	}
	if err := m.claimScope(job.ID, kinds); err != nil {
		return nil, err
	}
	defer m.releaseScope(job.ID)

	if err := m.ledger.CreateBackup(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record backup job: %w", err)
	}

	jobCtx, done := m.jobContext(ctx, job.ID)
	defer done()
	err = m.executeBackup(jobCtx, job, kinds)
	return job.Clone(), err
}

// runUnclaimedBackup runs a backup whose scope is already held by the
// calling job. Used for rollback snapshots.
func (m *Manager) runUnclaimedBackup(ctx context.Context, req BackupRequest) (*ledger.BackupJob, error) {
	job, kinds, err := m.prepareBackup(req)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.CreateBackup(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record backup job: %w", err)
	}
	err = m.executeBackup(logging.ContextWithJobID(ctx, job.ID), job, kinds)
	return job.Clone(), err
}

func (m *Manager) prepareBackup(req BackupRequest) (*ledger.BackupJob, []records.Kind, error) {
	if req.Type == "" {
		req.Type = ledger.TypeFull
	}
	typ, err := ledger.ParseBackupType(string(req.Type))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if typ == ledger.TypeSelective && len(req.Kinds) == 0 {
		return nil, nil, fmt.Errorf("%w: selective backups require at least one kind", ErrInvalidRequest)
	}
	if req.RetentionDays < 0 {
		return nil, nil, fmt.Errorf("%w: retention_days cannot be negative", ErrInvalidRequest)
	}
	kinds, err := m.resolveKinds(req.Kinds)
	if err != nil {
		return nil, nil, err
	}

	encrypt := m.cfg.EncryptByDefault
	if req.Encrypt != nil {
		encrypt = *req.Encrypt
	}
	if encrypt && m.encryptor == nil {
		return nil, nil, fmt.Errorf("%w: encryption requested but no key provider is configured", ErrKeyUnavailable)
	}

	verify := m.cfg.VerifyByDefault
	if req.Verify != nil {
		verify = *req.Verify
	}

	storage := StorageLocal
	if req.Upload {
		if _, noop := m.remote.(remote.NoopStore); noop {
			return nil, nil, fmt.Errorf("%w: upload requested but no remote store is configured", ErrInvalidRequest)
		}
		storage = m.remote.Name()
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = ledger.TriggerManual
	}

	var target []string
	if len(req.Kinds) > 0 {
		target = kindNames(kinds)
	}

	job := &ledger.BackupJob{
		ID:              uuid.NewString(),
		Type:            typ,
		Status:          ledger.BackupPending,
		Trigger:         trigger,
		Principal:       req.Principal,
		TargetKinds:     target,
		CreatedAt:       m.now().UTC(),
		StorageBackend:  storage,
		Encrypted:       encrypt,
		Compression:     m.archiver.Compressor().Name(),
		RetentionDays:   req.RetentionDays,
		VerifyRequested: verify,
		ProducerVersion: m.cfg.producerVersion(),
	}
	return job, kinds, nil
}

// artifactFiles tracks what a job has produced so a failure can remove it.
type artifactFiles struct {
	archive   string
	encrypted string
	manifest  string
	remote    string
}

func (f *artifactFiles) cleanup(ctx context.Context, store remote.Store) {
	if f == nil {
		return
	}
	removeFiles([]string{f.archive, f.encrypted, f.manifest})
	if f.remote != "" {
		if err := store.Delete(ctx, f.remote); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("remote_location", f.remote).Msg("Failed to remove remote copy of failed backup")
		}
	}
}

// executeBackup drives job from pending to a terminal state.
func (m *Manager) executeBackup(ctx context.Context, job *ledger.BackupJob, kinds []records.Kind) error {
	wctx := context.WithoutCancel(ctx)
	log := logging.Ctx(ctx).With().Str("backup_type", string(job.Type)).Logger()

	var trackedThrough uint64
	if m.tracker != nil {
		trackedThrough = m.tracker.Position()
	}

	started := m.now().UTC()
	job.Status = ledger.BackupRunning
	job.StartedAt = &started
	if err := m.ledger.UpdateBackup(wctx, job); err != nil {
		return fmt.Errorf("failed to mark backup running: %w", err)
	}

	metrics.BackupsRunning.Inc()
	defer metrics.BackupsRunning.Dec()

	m.publish(ctx, events.NewJobEvent(events.BackupStarted, job.ID, string(job.Status)))
	log.Info().Strs("kinds", kindNames(kinds)).Str("trigger", string(job.Trigger)).Msg("Backup started")

	files, err := m.runBackupPipeline(ctx, job, kinds)
	if err != nil {
		return m.failBackup(ctx, job, files, err)
	}

	if job.VerifyRequested {
		job.Status = ledger.BackupVerifying
		if err := m.ledger.UpdateBackup(wctx, job); err != nil {
			return m.failBackup(ctx, job, files, err)
		}
		t := time.Now()
		err := m.verifyJobArtifact(ctx, job)
		metrics.ObserveStage("verify", t)
		if err != nil {
			return m.failBackup(ctx, job, files, err)
		}
		job.Status = ledger.BackupVerified
	} else {
		job.Status = ledger.BackupCompleted
	}

	completed := m.now().UTC()
	job.CompletedAt = &completed
	if err := m.ledger.UpdateBackup(wctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to record backup completion")
		return fmt.Errorf("failed to record backup completion: %w", err)
	}

	metrics.RecordBackupFinished(string(job.Type), string(job.Status), job.Duration(), job.SizeBytes)
	if m.tracker != nil && len(job.TargetKinds) == 0 {
		m.tracker.MarkThrough(trackedThrough)
	}

	e := events.NewJobEvent(events.BackupCompleted, job.ID, string(job.Status))
	e.Details = map[string]any{
		"backup_type":     string(job.Type),
		"size_bytes":      job.SizeBytes,
		"record_count":    job.RecordCount,
		"remote_location": job.RemoteLocation,
	}
	m.publish(ctx, e)
	m.notifyBackup(job)

	log.Info().
		Str("status", string(job.Status)).
		Int64("size_bytes", job.SizeBytes).
		Int64("record_count", job.RecordCount).
		Float64("compression_ratio", job.CompressionRatio).
		Dur("duration", job.Duration()).
		Msg("Backup finished")
	return nil
}

// runBackupPipeline runs collect -> archive -> checksum -> encrypt -> upload.
func (m *Manager) runBackupPipeline(ctx context.Context, job *ledger.BackupJob, kinds []records.Kind) (*artifactFiles, error) {
	log := logging.Ctx(ctx)
	files := &artifactFiles{}

	workDir := m.cfg.WorkDir(job.ID)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return files, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir) //nolint:errcheck // best effort

	since, err := m.resolveAnchor(ctx, job, kinds)
	if err != nil {
		return files, err
	}
	snapshot := job.Type == ledger.TypeSnapshot
	if snapshot && !m.collector.SupportsSnapshot() {
		job.FellBackToFull = true
		snapshot = false
	}

	if err := checkpoint(ctx, "collect"); err != nil {
		return files, err
	}
	t := time.Now()
	coll, err := m.collector.Collect(ctx, kinds, since, snapshot, workDir)
	metrics.ObserveStage("collect", t)
	if err != nil {
		if isCancellation(ctx, err) {
			return files, fmt.Errorf("%w during collect: %v", ErrCancelled, err)
		}
		return files, err
	}
	job.KindCounts = coll.Counts()
	job.RecordCount = coll.TotalRows()
	job.IncrementalFallbacks = coll.Fallbacks()
	log.Debug().Int64("record_count", job.RecordCount).Strs("fallbacks", job.IncrementalFallbacks).Msg("Collection finished")

	if err := checkpoint(ctx, "archive"); err != nil {
		return files, err
	}
	t = time.Now()
	compressor := m.archiver.Compressor()
	files.archive = filepath.Join(m.cfg.Dir, ArtifactName(job.ID, compressor, false))
	manifest := newManifest(job, coll, compressor.Name(), job.ProducerVersion)
	uncompressed, err := m.archiver.Write(ctx, files.archive, manifest, coll)
	metrics.ObserveStage("archive", t)
	if err != nil {
		if isCancellation(ctx, err) {
			return files, fmt.Errorf("%w during archive: %v", ErrCancelled, err)
		}
		return files, err
	}
	job.UncompressedBytes = uncompressed

	files.manifest = ManifestPath(m.cfg.Dir, job.ID)
	if err := writeManifestFile(files.manifest, manifest); err != nil {
		return files, err
	}
	job.ManifestLocation = files.manifest

	t = time.Now()
	sum, err := Digest(ctx, files.archive)
	metrics.ObserveStage("checksum", t)
	if err != nil {
		return files, err
	}
	job.Checksum = sum

	compressed, err := fileSize(files.archive)
	if err != nil {
		return files, err
	}
	if compressed > 0 {
		job.CompressionRatio = float64(uncompressed) / float64(compressed)
	}
	job.ArtifactLocation = files.archive
	job.SizeBytes = compressed

	if job.Encrypted {
		if err := checkpoint(ctx, "encrypt"); err != nil {
			return files, err
		}
		if err := m.encryptArtifact(ctx, job, files); err != nil {
			return files, err
		}
	}

	if job.StorageBackend != StorageLocal {
		if err := checkpoint(ctx, "upload"); err != nil {
			return files, err
		}
		if err := m.uploadArtifact(ctx, job, files); err != nil {
			return files, err
		}
	}
	return files, nil
}

func (m *Manager) encryptArtifact(ctx context.Context, job *ledger.BackupJob, files *artifactFiles) error {
	if m.encryptor == nil {
		return fmt.Errorf("%w: no key provider configured", ErrKeyUnavailable)
	}
	t := time.Now()
	defer metrics.ObserveStage("encrypt", t)

	keyRef, err := m.encryptor.IssueKey(ctx)
	if err != nil {
		return err
	}
	enc, err := m.encryptor.Encrypt(ctx, files.archive, keyRef)
	if err != nil {
		if isCancellation(ctx, err) {
			return fmt.Errorf("%w during encrypt: %v", ErrCancelled, err)
		}
		return err
	}
	files.encrypted = enc
	removeFiles([]string{files.archive})
	files.archive = ""

	size, err := fileSize(enc)
	if err != nil {
		return err
	}
	job.EncryptionKeyRef = keyRef
	job.ArtifactLocation = enc
	job.SizeBytes = size
	return nil
}

// uploadArtifact sends the artifact off-site. Only cancellation is fatal;
// any other failure leaves the backup local-only.
func (m *Manager) uploadArtifact(ctx context.Context, job *ledger.BackupJob, files *artifactFiles) error {
	t := time.Now()
	defer metrics.ObserveStage("upload", t)

	key := remote.ObjectKey(m.cfg.RemotePrefix, job.ID, job.ArtifactLocation)
	loc, err := m.remote.Upload(ctx, job.ArtifactLocation, key)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w during upload: %v", ErrCancelled, err)
		}
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("backend", m.remote.Name()).
			Str("durability", "local_only").
			Msg("Remote upload failed; backup kept locally")
		job.RemoteLocation = ""
		return nil
	}
	files.remote = loc
	job.RemoteLocation = loc
	return nil
}

// resolveAnchor picks the lower bound for incremental and differential
// backups. Without a usable anchor the job runs as a full capture.
func (m *Manager) resolveAnchor(ctx context.Context, job *ledger.BackupJob, kinds []records.Kind) (*time.Time, error) {
	var types []ledger.BackupType
	switch job.Type {
	case ledger.TypeIncremental:
		types = []ledger.BackupType{ledger.TypeFull, ledger.TypeIncremental}
	case ledger.TypeDifferential:
		types = []ledger.BackupType{ledger.TypeFull}
	default:
		return nil, nil
	}

	candidates, err := m.ledger.ListBackups(ctx, ledger.BackupFilter{
		Types:    types,
		Statuses: []ledger.BackupStatus{ledger.BackupCompleted, ledger.BackupVerified},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find anchor backup: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return completedAt(candidates[i]).After(completedAt(candidates[j]))
	})

	for _, c := range candidates {
		if c.CompletedAt == nil || !covers(c, kinds) {
			continue
		}
		since := c.CompletedAt.UTC()
		job.AnchorJobID = c.ID
		job.Since = &since
		logging.Ctx(ctx).Debug().Str("anchor_job_id", c.ID).Time("since", since).Msg("Resolved backup anchor")
		return &since, nil
	}

	job.FellBackToFull = true
	logging.Ctx(ctx).Info().Msg("No anchor backup found; running as full capture")
	return nil, nil
}

// covers reports whether anchor captured every kind in kinds.
func covers(anchor *ledger.BackupJob, kinds []records.Kind) bool {
	if len(anchor.TargetKinds) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(anchor.TargetKinds))
	for _, k := range anchor.TargetKinds {
		held[k] = struct{}{}
	}
	for _, k := range kinds {
		if _, ok := held[k.Name]; !ok {
			return false
		}
	}
	return true
}

func completedAt(j *ledger.BackupJob) time.Time {
	if j.CompletedAt == nil {
		return time.Time{}
	}
	return *j.CompletedAt
}

// failBackup removes everything the job produced and records the failure.
func (m *Manager) failBackup(ctx context.Context, job *ledger.BackupJob, files *artifactFiles, cause error) error {
	wctx := context.WithoutCancel(ctx)
	if isCancellation(ctx, cause) && !errors.Is(cause, ErrCancelled) {
		cause = fmt.Errorf("%w: %v", ErrCancelled, cause)
	}

	files.cleanup(wctx, m.remote)
	job.ArtifactLocation = ""
	job.ManifestLocation = ""
	job.RemoteLocation = ""

	completed := m.now().UTC()
	job.Status = ledger.BackupFailed
	job.CompletedAt = &completed
	job.ErrorMessage = errorMessage(cause)
	job.FailureReason = classify(cause)
	if err := m.ledger.UpdateBackup(wctx, job); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to record backup failure")
	}

	metrics.RecordBackupFinished(string(job.Type), string(job.Status), job.Duration(), 0)
	if job.FailureReason == ledger.ReasonIntegrity {
		metrics.IntegrityFailures.WithLabelValues("backup").Inc()
	}

	e := events.NewJobEvent(events.BackupFailed, job.ID, string(job.Status))
	e.Reason = string(job.FailureReason)
	e.Error = job.ErrorMessage
	m.publish(ctx, e)
	m.notifyBackup(job)

	logging.Ctx(ctx).Error().
		Err(cause).
		Str("failure_reason", string(job.FailureReason)).
		Msg("Backup failed")
	return cause
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
