// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package services adapts vault components to suture's Serve(ctx) error
lifecycle.

  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - SchedulerService: a blocking Run(ctx) loop such as backup.Scheduler
  - PeriodicService: a task run on a fixed interval, used for the retention
    sweeper and ledger value log GC

Every service implements fmt.Stringer so supervisor events name it.
*/
package services
