// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/warehousevault/internal/logging"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Uptime      float64  `json:"uptime_seconds"`
	RunningJobs []string `json:"running_jobs"`
	Error       string   `json:"error,omitempty"`
}

// Health reports liveness and, when a readiness probe is configured,
// whether the ledger and warehouse are reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "healthy",
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Seconds(),
		RunningJobs: h.svc.Running(),
	}
	if resp.RunningJobs == nil {
		resp.RunningJobs = []string{}
	}

	status := http.StatusOK
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.readiness(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	respondSuccess(w, status, resp)
}

// Stats returns aggregate backup statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, st)
}

type reportQuery struct {
	Days int `json:"days" validate:"gte=1,lte=3650"`
}

// Report returns the period report; days defaults to 30.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	q := reportQuery{Days: getIntParam(r, "days", 30)}
	if !validateRequest(w, &q) {
		return
	}
	rep, err := h.svc.Report(r.Context(), q.Days)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, rep)
}

// Sweep runs the retention sweep now. Per-backup deletion errors are in
// the result; the response is still 200.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sweep(r.Context())
	if err != nil {
		respondManagerError(w, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Int("deleted", len(res.Deleted)).
		Int("local_pruned", len(res.LocalPruned)).
		Str("principal", sanitizeLogValue(principal(r))).
		Msg("Retention sweep requested")
	respondSuccess(w, http.StatusOK, res)
}
