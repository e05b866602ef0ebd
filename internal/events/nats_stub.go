// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

//go:build !nats

package events

import "fmt"

// NATSAvailable reports whether the binary was built with NATS support.
const NATSAvailable = false

// NewNATSPublisher returns an error when NATS support is not compiled in.
// Build with -tags=nats to enable it.
func NewNATSPublisher(_ NATSConfig, _ string) (*WatermillPublisher, error) {
	return nil, fmt.Errorf("NATS publisher not available: build with -tags=nats")
}
