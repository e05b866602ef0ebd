// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// checksumBufferSize is the fixed read size for digests.
const checksumBufferSize = 64 << 10

// Digest returns the hex SHA-256 of the file at path.
//
//nolint:gosec // G304: path is an artifact inside the backup directory
func Digest(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return DigestReader(ctx, f)
}

// DigestReader hashes r in fixed-size reads.
func DigestReader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, checksumBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n]) //nolint:errcheck // hash.Hash never errors
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read for checksum: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest of path and compares it with expected.
func Verify(ctx context.Context, path, expected string) (bool, error) {
	actual, err := Digest(ctx, path)
	if err != nil {
		return false, err
	}
	return equalDigests(actual, expected), nil
}

func equalDigests(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
