// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// principalHeader carries the operator identity recorded on jobs.
const principalHeader = "X-Requested-By"

// anonymousPrincipal is recorded when no principal header is sent.
const anonymousPrincipal = "api"

// BackupService is the subset of *backup.Manager the handlers call.
type BackupService interface {
	StartBackup(ctx context.Context, req backup.BackupRequest) (*ledger.BackupJob, error)
	StartRestore(ctx context.Context, req backup.RestoreRequest) (*ledger.RestoreJob, error)
	GetBackup(ctx context.Context, id string) (*ledger.BackupJob, error)
	ListBackups(ctx context.Context, opts backup.ListOptions) ([]*ledger.BackupJob, error)
	GetRestore(ctx context.Context, id string) (*ledger.RestoreJob, error)
	ListRestores(ctx context.Context, backupID string, limit, offset int) ([]*ledger.RestoreJob, error)
	GetStatus(ctx context.Context, id string) (*backup.JobStatus, error)
	DeleteBackup(ctx context.Context, id string) error
	VerifyBackup(ctx context.Context, id string) (*backup.VerificationResult, error)
	Sweep(ctx context.Context) (*backup.SweepResult, error)
	Stats(ctx context.Context) (*backup.Stats, error)
	Report(ctx context.Context, days int) (*backup.Report, error)
	CancelJob(id string) error
	Running() []string
}

// Handler serves the REST API.
type Handler struct {
	svc       BackupService
	readiness func(ctx context.Context) error
	startTime time.Time
	version   string
}

// NewHandler creates a handler. readiness may be nil; when set, /health
// reports 503 while it fails.
func NewHandler(svc BackupService, readiness func(ctx context.Context) error, version string) *Handler {
	return &Handler{
		svc:       svc,
		readiness: readiness,
		startTime: time.Now(),
		version:   version,
	}
}

// principal returns the requesting operator.
func principal(r *http.Request) string {
	p := strings.TrimSpace(r.Header.Get(principalHeader))
	if p == "" {
		return anonymousPrincipal
	}
	if len(p) > 128 {
		p = p[:128]
	}
	return p
}

// createBackupBody is the body of POST /api/v1/backups.
type createBackupBody struct {
	Type          ledger.BackupType `json:"type" validate:"required,oneof=full incremental differential snapshot selective"`
	Kinds         []string          `json:"kinds,omitempty" validate:"omitempty,max=64,dive,kind"`
	Encrypt       *bool             `json:"encrypt,omitempty"`
	Upload        bool              `json:"upload"`
	Verify        *bool             `json:"verify,omitempty"`
	RetentionDays int               `json:"retention_days,omitempty" validate:"gte=0,lte=3650"`
}

// CreateBackup starts a backup job and returns its id at once.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var body createBackupBody
	if !decodeBody(w, r, &body) {
		return
	}

	job, err := h.svc.StartBackup(r.Context(), backup.BackupRequest{
		Type:          body.Type,
		Kinds:         body.Kinds,
		Encrypt:       body.Encrypt,
		Upload:        body.Upload,
		Verify:        body.Verify,
		RetentionDays: body.RetentionDays,
		Principal:     principal(r),
		Trigger:       ledger.TriggerManual,
	})
	if err != nil {
		respondManagerError(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("job_id", job.ID).
		Str("backup_type", string(job.Type)).
		Str("principal", sanitizeLogValue(job.Principal)).
		Msg("Backup requested")

	respondSuccess(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ListBackups returns backup history, newest first.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := backup.ListOptions{
		Type:   ledger.BackupType(q.Get("type")),
		Status: ledger.BackupStatus(q.Get("status")),
		Days:   getIntParam(r, "days", 0),
		Limit:  getIntParam(r, "limit", 50),
		Offset: getIntParam(r, "offset", 0),
	}
	if !validateRequest(w, &opts) {
		return
	}

	jobs, err := h.svc.ListBackups(r.Context(), opts)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*ledger.BackupJob{}
	}
	respondList(w, jobs, len(jobs))
}

// GetBackup returns one backup job.
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, job)
}

// DeleteBackup removes a terminal backup's artifacts and ledger row.
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteBackup(r.Context(), id); err != nil {
		respondManagerError(w, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("backup_id", id).
		Str("principal", sanitizeLogValue(principal(r))).
		Msg("Backup deleted via API")
	respondSuccess(w, http.StatusOK, map[string]string{"deleted": id})
}

// VerifyBackup re-checks a backup's artifact. A failed check is still a
// 200; the result carries valid=false and the reasons.
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, res)
}

// CancelJob requests cancellation of a running backup or restore.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CancelJob(id); err != nil {
		respondManagerError(w, err)
		return
	}
	logging.Ctx(r.Context()).Warn().
		Str("job_id", id).
		Str("principal", sanitizeLogValue(principal(r))).
		Msg("Job cancellation requested")
	respondSuccess(w, http.StatusAccepted, map[string]string{"cancelling": id})
}
