// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore mirrors artifacts into a second directory, typically a network
// or removable mount. Locations are file:// URIs.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve remote root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create remote root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Name implements Store.
func (s *LocalStore) Name() string { return BackendFilesystem }

// Upload implements Store.
func (s *LocalStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := copyFile(ctx, localPath, dst); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return (&url.URL{Scheme: "file", Path: dst}).String(), nil
}

// Download implements Store.
func (s *LocalStore) Download(ctx context.Context, location, dstPath string) (string, error) {
	src, err := s.pathFor(location)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := copyFile(ctx, src, dstPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return dstPath, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(_ context.Context, location string) error {
	p, err := s.pathFor(location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	// Drop the per-job directory once it is empty.
	_ = os.Remove(filepath.Dir(p))
	return nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q escapes the remote root", key)
	}
	return p, nil
}

func (s *LocalStore) pathFor(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("not a local store location: %q", location)
	}
	p := filepath.Clean(u.Path)
	if !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("location %q is outside the remote root", location)
	}
	return p, nil
}

func copyFile(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // paths are validated by the caller
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // see above
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
