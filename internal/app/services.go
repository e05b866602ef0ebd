// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/warehousevault/internal/api"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/supervisor"
	"github.com/tomtom215/warehousevault/internal/supervisor/services"
)

// ledgerGCInterval is how often the ledger value log is compacted.
const ledgerGCInterval = 10 * time.Minute

// Router builds the HTTP handler over the manager.
func (a *App) Router(version string) http.Handler {
	srv := a.Config.Server
	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = srv.CORSOrigins
	mwCfg.RateLimitRequests = srv.RateLimitReqs
	mwCfg.RateLimitWindow = srv.RateLimitWindow
	mwCfg.RateLimitDisabled = srv.RateLimitDisabled

	h := api.NewHandler(a.Manager, a.Ready, version)
	return api.NewRouter(h, api.NewChiMiddleware(mwCfg))
}

// SupervisorTree builds the process tree: ledger GC, scheduler, sweeper,
// the event log and the HTTP server.
func (a *App) SupervisorTree(version string) (*supervisor.SupervisorTree, error) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return nil, err
	}

	if !a.Config.Ledger.InMemory {
		tree.AddStorageService(services.NewLedgerGCService(ledgerGCInterval, a.Ledger.RunGC))
	}

	if a.Scheduler.Enabled() {
		tree.AddJobService(services.NewSchedulerService(a.Scheduler))
	}
	if a.Config.Retention.SweepInterval > 0 {
		tree.AddJobService(services.NewSweeperService(a.Config.Retention.SweepInterval, a.sweep))
	}
	if a.bus != nil {
		tree.AddJobService(newEventLog(a.bus, a.Config.Events.Topic))
	}

	srv := a.Config.Server
	server := &http.Server{
		Addr:              srv.Addr(),
		Handler:           a.Router(version),
		ReadTimeout:       srv.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      srv.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, srv.ShutdownTimeout))
	return tree, nil
}

func (a *App) sweep(ctx context.Context) error {
	res, err := a.Manager.Sweep(ctx)
	if err != nil {
		return err
	}
	if len(res.Deleted) > 0 || len(res.LocalPruned) > 0 || len(res.Errors) > 0 {
		logging.Info().
			Int("deleted", len(res.Deleted)).
			Int("local_pruned", len(res.LocalPruned)).
			Int("errors", len(res.Errors)).
			Int64("freed_bytes", res.FreedBytes).
			Msg("Retention sweep finished")
	}
	return nil
}
