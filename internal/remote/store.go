// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

// Package remote provides the Remote Store capability: an optional object
// store that backup artifacts are offloaded to. The backend is selected by
// configuration; NoopStore is the default.
package remote

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Errors returned by stores. Each wraps the underlying cause.
var (
	ErrUpload   = errors.New("remote upload failed")
	ErrDownload = errors.New("remote download failed")
	ErrDelete   = errors.New("remote delete failed")

	// ErrDisabled is returned by NoopStore for operations that need an object.
	ErrDisabled = errors.New("remote store disabled")
)

// Store uploads, downloads and deletes artifacts in an object store.
// Locations are URIs owned by the store that produced them.
type Store interface {
	// Name identifies the backend in logs and metrics ("none", "filesystem", "s3").
	Name() string

	// Upload copies the local file at localPath to key and returns its location.
	Upload(ctx context.Context, localPath, key string) (location string, err error)

	// Download copies location to dstPath and returns dstPath.
	Download(ctx context.Context, location, dstPath string) (string, error)

	// Delete removes location. Deleting a missing object is not an error.
	Delete(ctx context.Context, location string) error
}

// ObjectKey builds the canonical key for an artifact file of a job:
// <prefix>/backups/<jobID>/<file>.
func ObjectKey(prefix, jobID, file string) string {
	return path.Join(strings.Trim(prefix, "/"), "backups", jobID, path.Base(file))
}

// NoopStore is the default Store. Uploads succeed without storing anything
// and return an empty location, which the backup manager records as a
// local-only backup.
type NoopStore struct{}

// Name implements Store.
func (NoopStore) Name() string { return "none" }

// Upload implements Store.
func (NoopStore) Upload(context.Context, string, string) (string, error) { return "", nil }

// Download implements Store.
func (NoopStore) Download(_ context.Context, location, _ string) (string, error) {
	return "", fmt.Errorf("%w: %w: %s", ErrDownload, ErrDisabled, location)
}

// Delete implements Store.
func (NoopStore) Delete(context.Context, string) error { return nil }
