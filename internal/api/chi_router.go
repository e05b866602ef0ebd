// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter configures all HTTP routes.
func NewRouter(h *Handler, mw *ChiMiddleware) http.Handler {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS()) // CORS must be global to handle OPTIONS preflight

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics())

		// Reads are not rate limited; operators poll job status.
		r.Get("/backups", h.ListBackups)
		r.Get("/backups/{id}", h.GetBackup)
		r.Get("/restores", h.ListRestores)
		r.Get("/restores/{id}", h.GetRestore)
		r.Get("/jobs/{id}", h.GetJobStatus)
		r.Get("/stats", h.Stats)
		r.Get("/report", h.Report)

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())
			r.Post("/backups", h.CreateBackup)
			r.Post("/backups/{id}/verify", h.VerifyBackup)
			r.Post("/backups/{id}/cancel", h.CancelJob)
			r.Delete("/backups/{id}", h.DeleteBackup)
			r.Post("/restores", h.CreateRestore)
			r.Post("/restores/{id}/cancel", h.CancelJob)
			r.Post("/retention/sweep", h.Sweep)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}
