// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
)

// createRestoreBody is the body of POST /api/v1/restores.
// RollbackOnFailure defaults to true over HTTP.
type createRestoreBody struct {
	BackupID          string     `json:"backup_id" validate:"required,uuid"`
	Kinds             []string   `json:"kinds,omitempty" validate:"omitempty,max=64,dive,kind"`
	DryRun            bool       `json:"dry_run"`
	RollbackOnFailure *bool      `json:"rollback_on_failure,omitempty"`
	PointInTime       *time.Time `json:"point_in_time,omitempty"`
}

type listRestoresQuery struct {
	BackupID string `json:"backup_id" validate:"omitempty,uuid"`
	Limit    int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int    `json:"offset" validate:"gte=0"`
}

// CreateRestore starts a restore job and returns its id at once.
func (h *Handler) CreateRestore(w http.ResponseWriter, r *http.Request) {
	var body createRestoreBody
	if !decodeBody(w, r, &body) {
		return
	}

	rollback := true
	if body.RollbackOnFailure != nil {
		rollback = *body.RollbackOnFailure
	}

	job, err := h.svc.StartRestore(r.Context(), backup.RestoreRequest{
		BackupID:          body.BackupID,
		Kinds:             body.Kinds,
		DryRun:            body.DryRun,
		RollbackOnFailure: rollback,
		PointInTime:       body.PointInTime,
		Principal:         principal(r),
		Trigger:           ledger.TriggerManual,
	})
	if err != nil {
		respondManagerError(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("restore_id", job.ID).
		Str("backup_id", job.BackupJobID).
		Bool("dry_run", body.DryRun).
		Str("principal", sanitizeLogValue(job.Principal)).
		Msg("Restore requested")

	respondSuccess(w, http.StatusAccepted, map[string]interface{}{
		"restore_id": job.ID,
		"status":     job.Status,
	})
}

// ListRestores returns restore history, optionally for one backup.
func (h *Handler) ListRestores(w http.ResponseWriter, r *http.Request) {
	q := listRestoresQuery{
		BackupID: r.URL.Query().Get("backup_id"),
		Limit:    getIntParam(r, "limit", 50),
		Offset:   getIntParam(r, "offset", 0),
	}
	if !validateRequest(w, &q) {
		return
	}

	jobs, err := h.svc.ListRestores(r.Context(), q.BackupID, q.Limit, q.Offset)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*ledger.RestoreJob{}
	}
	respondList(w, jobs, len(jobs))
}

// GetRestore returns one restore job.
func (h *Handler) GetRestore(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetRestore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, job)
}

// GetJobStatus looks an id up as either job kind.
func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, st)
}
