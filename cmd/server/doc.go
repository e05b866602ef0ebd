// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Command server runs the WarehouseVault service: the REST API, the automatic
backup scheduler and the retention sweeper, under a suture supervision tree.

Configuration is layered with koanf (defaults, then config.yaml, then
environment variables); see internal/config for every key. The most common
settings:

	BACKUP_DIR=/data/backups
	BACKUP_ENCRYPTION_KEYS=k1:<base64 32-byte key>
	WAREHOUSE_DRIVER=pgx WAREHOUSE_DSN=postgres://vault@db/mindcare
	REMOTE_BACKEND=s3 S3_BUCKET=mindcare-backups
	BACKUP_SCHEDULE_ENABLED=true BACKUP_SCHEDULE_PREFERRED_HOUR=2
	HTTP_PORT=8470

Build with -tags nats to publish job events to NATS JetStream
(EVENTS_TRANSPORT=nats, NATS_URL=nats://...). Without it, events go to an
in-process Watermill channel and are written to the log.

SIGINT and SIGTERM stop the tree: the HTTP server drains, the scheduler
stops, and running jobs are cancelled at their next checkpoint and recorded
as failed with reason "cancelled".
*/
package main
