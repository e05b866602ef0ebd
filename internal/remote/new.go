// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package remote

import "fmt"

// Backend names accepted by New.
const (
	BackendNone       = "none"
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	LocalDir string
	S3       S3Options
	Breaker  BreakerConfig
}

// New returns the configured Store. Real backends are wrapped in a
// BreakerStore; the no-op default is returned bare.
func New(opts Options) (Store, error) {
	breaker := opts.Breaker
	if breaker.FailureThreshold == 0 {
		breaker = DefaultBreakerConfig()
	}

	switch opts.Backend {
	case "", BackendNone:
		return NoopStore{}, nil
	case BackendFilesystem:
		if opts.LocalDir == "" {
			return nil, fmt.Errorf("remote backend %q requires a directory", BackendFilesystem)
		}
		s, err := NewLocalStore(opts.LocalDir)
		if err != nil {
			return nil, err
		}
		return NewBreakerStore(s, breaker), nil
	case BackendS3:
		s, err := NewS3Store(opts.S3)
		if err != nil {
			return nil, err
		}
		return NewBreakerStore(s, breaker), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q (want none, filesystem or s3)", opts.Backend)
	}
}
