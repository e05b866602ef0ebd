// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package app assembles the vault from configuration: the warehouse record
// source, the job ledger, the keyring, the remote store, the event
// transport and the backup manager. Both the server and vaultctl start
// from Build.
package app
