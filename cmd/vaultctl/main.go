// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
Command vaultctl runs backup and recovery operations against the warehouse
from the command line. Jobs run synchronously in this process, against the
same configuration, ledger and remote store as the server.

Exit codes:

	0  job completed, verified or validated
	1  usage or setup error
	2  job failed
	3  integrity failure
	4  encryption key unavailable
	5  job cancelled
*/
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
