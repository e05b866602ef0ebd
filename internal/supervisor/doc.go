// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package supervisor runs the long-lived parts of the vault server under a
suture v4 supervision tree.

	SupervisorTree ("warehousevault")
	├── storage-layer
	│   └── ledger-gc           PeriodicService over BadgerLedger.RunGC
	├── jobs-layer
	│   ├── backup-scheduler    SchedulerService over backup.Scheduler
	│   └── retention-sweeper   PeriodicService over Manager.Sweep
	└── api-layer
	    └── http-server         HTTPServerService

Crashed services are restarted with suture's backoff. Supervisor events are
logged through sutureslog into the process slog logger, which is bridged to
zerolog by the logging package.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddJobService(services.NewSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)

The service adapters live in the services subpackage.
*/
package supervisor
