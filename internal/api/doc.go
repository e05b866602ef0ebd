// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package api provides the HTTP REST API of WarehouseVault.

Every operation of the backup manager is reachable over HTTP so operators
and the MindCare admin console can trigger and watch jobs without shell
access to the host.

Routes:

	GET    /health                      liveness plus ledger readiness
	GET    /metrics                     Prometheus exposition
	GET    /api/v1/backups              backup history (type, status, days, limit, offset)
	POST   /api/v1/backups              start a backup, 202 with job_id
	GET    /api/v1/backups/{id}         one backup job
	DELETE /api/v1/backups/{id}         delete a terminal backup everywhere
	POST   /api/v1/backups/{id}/verify  re-check artifact integrity
	POST   /api/v1/backups/{id}/cancel  cancel a running backup
	GET    /api/v1/restores             restore history (backup_id, limit, offset)
	POST   /api/v1/restores             start a restore, 202 with restore_id
	GET    /api/v1/restores/{id}        one restore job
	POST   /api/v1/restores/{id}/cancel cancel a running restore
	GET    /api/v1/jobs/{id}            status of either job kind
	GET    /api/v1/stats                aggregate statistics
	GET    /api/v1/report               period report (days)
	POST   /api/v1/retention/sweep      run the retention sweep now

Responses use one envelope:

	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
	{"status": "error", "error": {"code": "SCOPE_BUSY", "message": "..."}, ...}

Mutating routes are rate limited per client IP with go-chi/httprate.
Request bodies are validated with go-playground/validator through the
validation package. The X-Requested-By header names the principal that is
recorded on jobs; authentication is left to the reverse proxy in front of
the service.
*/
package api
