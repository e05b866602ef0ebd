// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateS3Endpoint checks a custom S3 endpoint (MinIO, R2, ...). The
// bucket is configured separately, so the endpoint carries no path.
func validateS3Endpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("S3_ENDPOINT failed to parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("S3_ENDPOINT scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("S3_ENDPOINT host is required")
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("S3_ENDPOINT must not include a path (set S3_BUCKET and REMOTE_PREFIX instead), got: %s", u.Path)
	}
	if u.RawQuery != "" || u.User != nil {
		return fmt.Errorf("S3_ENDPOINT must not carry credentials or query parameters")
	}
	return nil
}

// validateNATSURLs checks a NATS server list. nats.go accepts several
// comma-separated cluster URLs; each must name a host.
func validateNATSURLs(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("at least one server URL is required")
	}
	for _, part := range strings.Split(raw, ",") {
		u, err := url.Parse(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("failed to parse %q: %w", part, err)
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("host is required in %q (e.g., localhost:4222)", part)
		}
	}
	return nil
}

// validatePostgresDSN accepts the two forms pgx parses: a postgres:// URL
// or libpq key=value pairs.
func validatePostgresDSN(dsn string) error {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return fmt.Errorf("WAREHOUSE_DSN failed to parse: %w", err)
		}
		if u.Host == "" && u.Query().Get("host") == "" {
			return fmt.Errorf("WAREHOUSE_DSN host is required")
		}
		return nil
	}
	if !strings.Contains(dsn, "=") {
		return fmt.Errorf("WAREHOUSE_DSN must be a postgres:// URL or key=value pairs")
	}
	return nil
}
