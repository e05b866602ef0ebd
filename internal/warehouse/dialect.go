// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package warehouse

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Supported drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "pgx"
)

// dialect holds the per-driver SQL differences. Both engines accept $n
// placeholders and INSERT ... ON CONFLICT, so only types and transaction
// options differ.
type dialect struct {
	driver      string
	payloadType string
	timeType    string

	// snapshot opens the read transaction used for consistent exports.
	// DuckDB transactions are snapshot isolated and reject explicit options.
	snapshot *sql.TxOptions
}

var dialects = map[string]dialect{
	DriverDuckDB: {
		driver:      "duckdb",
		payloadType: "VARCHAR",
		timeType:    "TIMESTAMP",
	},
	DriverPostgres: {
		driver:      "pgx",
		payloadType: "TEXT",
		timeType:    "TIMESTAMPTZ",
		snapshot:    &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	},
}

func dialectFor(driver string) (dialect, error) {
	if driver == "" {
		driver = DriverDuckDB
	}
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported warehouse driver %q (want duckdb or pgx)", driver)
	}
	return d, nil
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// quoteIdent validates and quotes a table name derived from a kind name.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("record kind %q is not a valid table name", name)
	}
	return `"` + name + `"`, nil
}

func (d dialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR PRIMARY KEY,
	payload %s NOT NULL,
	updated_at %s
)`, table, d.payloadType, d.timeType)
}

func upsertSQL(table string) string {
	return "INSERT INTO " + table + " (id, payload, updated_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at"
}
