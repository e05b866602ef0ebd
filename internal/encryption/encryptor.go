// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package encryption

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Ext is appended to the path of encrypted artifacts.
const Ext = ".enc"

// Encryptor encrypts and decrypts artifact files with keys resolved through
// a KeyProvider.
type Encryptor struct {
	keys      KeyProvider
	chunkSize int
}

// New returns an Encryptor. A chunkSize of 0 selects DefaultChunkSize.
func New(keys KeyProvider, chunkSize int) *Encryptor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Encryptor{keys: keys, chunkSize: chunkSize}
}

// IssueKey asks the provider for the key reference new artifacts should use.
func (e *Encryptor) IssueKey(ctx context.Context) (string, error) {
	return e.keys.IssueKey(ctx)
}

// Encrypt writes path+".enc" and returns its path. The input is left in
// place; the caller decides when to remove it. A partial output is removed
// on failure.
func (e *Encryptor) Encrypt(ctx context.Context, path, keyRef string) (outPath string, err error) {
	key, err := e.keys.FetchKey(ctx, keyRef)
	if err != nil {
		return "", err
	}

	in, err := os.Open(path) //nolint:gosec // path is produced by the archiver
	if err != nil {
		return "", fmt.Errorf("open plaintext artifact: %w", err)
	}
	defer in.Close()

	outPath = path + Ext
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // derived from archiver path
	if err != nil {
		return "", fmt.Errorf("create encrypted artifact: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close encrypted artifact: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(outPath)
			outPath = ""
		}
	}()

	bw := bufio.NewWriterSize(out, e.chunkSize+64)
	w, err := NewWriter(bw, key, e.chunkSize)
	if err != nil {
		return outPath, err
	}
	if _, err = io.Copy(w, contextReader{ctx: ctx, r: in}); err != nil {
		return outPath, fmt.Errorf("encrypt artifact: %w", err)
	}
	if err = w.Close(); err != nil {
		return outPath, fmt.Errorf("finalize encrypted artifact: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return outPath, fmt.Errorf("flush encrypted artifact: %w", err)
	}
	return outPath, out.Sync()
}

// Decrypt writes the plaintext of an encrypted artifact to dst and returns
// dst. An empty dst strips the ".enc" suffix from path.
func (e *Encryptor) Decrypt(ctx context.Context, path, keyRef, dst string) (outPath string, err error) {
	if dst == "" {
		dst = strings.TrimSuffix(path, Ext)
		if dst == path {
			dst = path + ".plain"
		}
	}

	in, err := os.Open(path) //nolint:gosec // path comes from the job ledger
	if err != nil {
		return "", fmt.Errorf("open encrypted artifact: %w", err)
	}
	defer in.Close()

	r, err := e.OpenReader(ctx, bufio.NewReaderSize(in, e.chunkSize+64), keyRef)
	if err != nil {
		return "", err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // caller-controlled work path
	if err != nil {
		return "", fmt.Errorf("create decrypted artifact: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, contextReader{ctx: ctx, r: r}); err != nil {
		return "", fmt.Errorf("decrypt artifact: %w", err)
	}
	return dst, nil
}

// OpenReader resolves keyRef and returns a streaming plaintext reader over r.
func (e *Encryptor) OpenReader(ctx context.Context, r io.Reader, keyRef string) (io.Reader, error) {
	key, err := e.keys.FetchKey(ctx, keyRef)
	if err != nil {
		return nil, err
	}
	return NewReader(r, key)
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
