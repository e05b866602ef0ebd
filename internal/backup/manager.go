// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
manager.go - Core Backup Manager

The Manager is the only component that writes job state. It owns:
  - the collect/archive/encrypt/upload pipeline (manager_backup.go)
  - the restore pipeline (restore.go, restore_apply.go)
  - on-demand verification (manager_validation.go)
  - the retention sweep (retention.go)
  - history, stats, and reports (manager_crud.go, manager_helpers.go)

Concurrency:
Each job runs on its own goroutine with a private work directory. Scope
claims guarantee that at most one job touches a record kind at a time.
Ledger writes for one job happen only on that job's goroutine.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/events"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/records"
	"github.com/tomtom215/warehousevault/internal/remote"
)

// Deps are the collaborators injected into a Manager.
type Deps struct {
	// Source is the warehouse being protected. Required.
	Source records.Source

	// Ledger persists job state. Required.
	Ledger ledger.Ledger

	// Keys resolves encryption keys. Nil disables encryption.
	Keys encryption.KeyProvider

	// Remote is the off-site store. Nil means remote.NoopStore.
	Remote remote.Store

	// Publisher receives job events. Nil drops them.
	Publisher events.Publisher

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Manager orchestrates backup and restore jobs.
type Manager struct {
	cfg       Config
	source    records.Source
	ledger    ledger.Ledger
	collector *Collector
	archiver  *Archiver
	encryptor *encryption.Encryptor
	remote    remote.Store
	publisher events.Publisher
	tracker   *records.ChangeTracker
	now       func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	scopes  map[string]map[string]struct{}
	cancels map[string]context.CancelFunc

	callbackMu        sync.RWMutex
	onBackupComplete  func(job *ledger.BackupJob)
	onRestoreComplete func(job *ledger.RestoreJob)

	// sweepMu serializes retention sweeps.
	sweepMu sync.Mutex

	// nextRun is published by the Scheduler for Stats.
	nextRun atomic.Pointer[time.Time]
}

// NewManager creates a Manager and fails any jobs a previous process left
// unfinished, since execution cannot resume mid-stream.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("record source is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("job ledger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("backup configuration validation failed: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	compressor, err := NewCompressor(cfg.Compression.Algorithm, cfg.Compression.Level)
	if err != nil {
		return nil, err
	}

	baseCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		source:    deps.Source,
		ledger:    deps.Ledger,
		collector: NewCollector(deps.Source),
		archiver:  NewArchiver(compressor),
		remote:    deps.Remote,
		publisher: deps.Publisher,
		now:       deps.Now,
		baseCtx:   baseCtx,
		stop:      stop,
		scopes:    make(map[string]map[string]struct{}),
		cancels:   make(map[string]context.CancelFunc),
	}
	if deps.Keys != nil {
		m.encryptor = encryption.New(deps.Keys, cfg.ChunkSize)
	}
	if m.remote == nil {
		m.remote = remote.NoopStore{}
	}
	if m.publisher == nil {
		m.publisher = events.NopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if n, ok := deps.Source.(records.Notifier); ok {
		m.tracker = records.NewChangeTracker(n)
	}

	if err := m.failInterrupted(context.Background()); err != nil {
		stop()
		return nil, err
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// Registry returns the record kinds of the protected source.
func (m *Manager) Registry() *records.Registry { return m.source.Registry() }

// ChangeTracker returns the tracker fed by the source's change hook, or nil
// when the source does not announce writes.
func (m *Manager) ChangeTracker() *records.ChangeTracker { return m.tracker }

// Close cancels running jobs and waits for them to record their outcome.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	return nil
}

// SetOnBackupComplete registers a callback for backups reaching a terminal state.
func (m *Manager) SetOnBackupComplete(fn func(job *ledger.BackupJob)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onBackupComplete = fn
}

// SetOnRestoreComplete registers a callback for restores reaching a terminal state.
func (m *Manager) SetOnRestoreComplete(fn func(job *ledger.RestoreJob)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onRestoreComplete = fn
}

// CancelJob requests cooperative cancellation of a running backup or restore.
// It returns ErrJobNotFound when no such job is running.
func (m *Manager) CancelJob(id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not running", ErrJobNotFound, id)
	}
	logging.Info().Str("job_id", id).Msg("Cancellation requested")
	cancel()
	return nil
}

// Running returns the IDs of jobs currently executing.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		out = append(out, id)
	}
	return out
}

// claimScope reserves kinds for jobID and registers the job with Close. It
// fails with ErrScopeBusy when any kind is held by another job. Every
// successful claim must be paired with releaseScope.
func (m *Manager) claimScope(jobID string, kinds []records.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	for owner, held := range m.scopes {
		for _, k := range kinds {
			if _, busy := held[k.Name]; busy {
				return fmt.Errorf("%w: %s is held by job %s", ErrScopeBusy, k.Name, owner)
			}
		}
	}

	claim := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		claim[k.Name] = struct{}{}
	}
	m.scopes[jobID] = claim
	m.wg.Add(1)
	return nil
}

func (m *Manager) releaseScope(jobID string) {
	m.mu.Lock()
	delete(m.scopes, jobID)
	m.mu.Unlock()
	m.wg.Done()
}

// jobContext derives the context a job runs under. Jobs outlive the request
// that started them, so they hang off the manager's base context; the
// caller's correlation ID is carried over and log lines are tagged with the
// job and the backup component.
func (m *Manager) jobContext(parent context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	if cid := logging.CorrelationIDFromContext(parent); cid != "" {
		ctx = logging.ContextWithCorrelationID(ctx, cid)
	}
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("backup"))
	ctx = logging.ContextWithJobID(ctx, jobID)

	// A synchronous caller's cancellation reaches the job too.
	stopAfter := context.AfterFunc(parent, cancel)

	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()

	return ctx, func() {
		stopAfter()
		m.mu.Lock()
		delete(m.cancels, jobID)
		m.mu.Unlock()
		cancel()
	}
}

// checkpoint is the cooperative cancellation point between stages.
func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s", ErrCancelled, stage)
	}
	return nil
}

// failInterrupted marks jobs left in a non-terminal state as failed.
func (m *Manager) failInterrupted(ctx context.Context) error {
	backups, err := m.ledger.ListBackups(ctx, ledger.BackupFilter{
		Statuses: []ledger.BackupStatus{ledger.BackupPending, ledger.BackupRunning, ledger.BackupVerifying},
	})
	if err != nil {
		return fmt.Errorf("failed to scan for interrupted backups: %w", err)
	}
	for _, job := range backups {
		now := m.now()
		if job.Status == ledger.BackupPending {
			job.Status = ledger.BackupRunning
			job.StartedAt = &now
			if err := m.ledger.UpdateBackup(ctx, job); err != nil {
				return err
			}
		}
		job.Status = ledger.BackupFailed
		job.CompletedAt = &now
		job.FailureReason = ledger.ReasonInterrupted
		job.ErrorMessage = "interrupted by process shutdown"
		if err := m.ledger.UpdateBackup(ctx, job); err != nil {
			return err
		}
		logging.Warn().Str("job_id", job.ID).Msg("Marked interrupted backup as failed")
	}

	restores, err := m.ledger.ListRestores(ctx, ledger.RestoreFilter{
		Statuses: []ledger.RestoreStatus{ledger.RestorePending, ledger.RestoreRunning, ledger.RestoreValidating},
	})
	if err != nil {
		return fmt.Errorf("failed to scan for interrupted restores: %w", err)
	}
	for _, job := range restores {
		now := m.now()
		if job.Status == ledger.RestorePending {
			job.Status = ledger.RestoreRunning
			job.StartedAt = &now
			if err := m.ledger.UpdateRestore(ctx, job); err != nil {
				return err
			}
		}
		job.Status = ledger.RestoreFailed
		job.CompletedAt = &now
		job.FailureReason = ledger.ReasonInterrupted
		job.ErrorMessage = "interrupted by process shutdown"
		job.RollbackRequired = job.RollbackBackupID != "" || !job.DryRun
		if err := m.ledger.UpdateRestore(ctx, job); err != nil {
			return err
		}
		logging.Warn().Str("job_id", job.ID).Msg("Marked interrupted restore as failed")
	}
	return nil
}

// publish sends an event; delivery problems are logged, never fatal.
func (m *Manager) publish(ctx context.Context, e events.JobEvent) {
	e.Timestamp = m.now().UTC()
	if err := m.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", e.Type).Msg("Failed to publish job event")
	}
}

func (m *Manager) notifyBackup(job *ledger.BackupJob) {
	m.callbackMu.RLock()
	fn := m.onBackupComplete
	m.callbackMu.RUnlock()
	if fn != nil {
		fn(job.Clone())
	}
}

func (m *Manager) notifyRestore(job *ledger.RestoreJob) {
	m.callbackMu.RLock()
	fn := m.onRestoreComplete
	m.callbackMu.RUnlock()
	if fn != nil {
		fn(job.Clone())
	}
}

// resolveKinds validates requested kind names against the registry.
func (m *Manager) resolveKinds(names []string) ([]records.Kind, error) {
	kinds, err := m.source.Registry().Resolve(names)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return kinds, nil
}

func kindNames(kinds []records.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.Name
	}
	return out
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}
