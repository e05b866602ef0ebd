// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Package warehouse is the SQL Record Source for the MindCare data warehouse.

Every record kind is stored in its own table with a fixed shape:

	id          primary key, the record ID
	payload     the record body as compact JSON text
	updated_at  last-modified marker, NULL for kinds without one

Two drivers are supported:
  - duckdb (default): embedded, file or in-memory, via duckdb-go
  - pgx: PostgreSQL through the pgx database/sql driver

The Store implements every optional capability the backup manager looks
for: atomic restores in one transaction (records.Transactor), consistent
exports from one read transaction (records.Snapshotter), and referential
checks over the declared kind references (records.ReferenceChecker).
Committed writes are announced through OnRecordChanged.

Example:

	store, err := warehouse.Open(ctx, warehouse.Config{Driver: warehouse.DriverDuckDB, DSN: "/data/warehouse.duckdb"}, warehouse.MindCareRegistry())
	if err != nil {
	    return err
	}
	defer store.Close()
*/
package warehouse
