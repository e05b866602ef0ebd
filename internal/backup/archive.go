// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
archive.go - Artifact Container

An artifact is one compressed tar stream:

	backup_<id>.tar.<gz|zst>[.enc]
	├── manifest.json
	└── data/
	    ├── users.ndjson
	    ├── mood_entries.ndjson
	    └── ...

Writers are stacked file -> compressor -> tar and closed in reverse order.
The manifest is always the first member so it can be read without
extracting the data files.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// maxMemberSize bounds a single extracted member.
const maxMemberSize = 64 << 30

// maxManifestSize bounds the manifest member.
const maxManifestSize = 16 << 20

// ArtifactName returns the container file name for a backup.
func ArtifactName(backupID string, c Compressor, encrypted bool) string {
	name := "backup_" + backupID + ".tar"
	if ext := c.Ext(); ext != "" {
		name += "." + ext
	}
	if encrypted {
		name += ".enc"
	}
	return name
}

// Archiver writes and reads artifact containers.
type Archiver struct {
	compressor Compressor
}

// NewArchiver returns an Archiver that writes with c.
func NewArchiver(c Compressor) *Archiver {
	return &Archiver{compressor: c}
}

// Compressor returns the compressor used for new containers.
func (a *Archiver) Compressor() Compressor { return a.compressor }

// archiveWriters holds the writer stack for one container.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error.
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

//nolint:gosec // G304: path is inside the backup directory
func (a *Archiver) setupWriters(dst string) (*archiveWriters, error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	aw := &archiveWriters{closers: []io.Closer{syncCloser{out}}}

	cw, err := a.compressor.NewWriter(out)
	if err != nil {
		out.Close() //nolint:errcheck // best effort cleanup on error
		return nil, fmt.Errorf("failed to create %s writer: %w", a.compressor.Name(), err)
	}
	aw.closers = append(aw.closers, cw)

	aw.tarWriter = tar.NewWriter(cw)
	aw.closers = append(aw.closers, aw.tarWriter)
	return aw, nil
}

// Write builds the container at dst from the manifest and the collected
// files, then removes the collected files. It returns the number of
// uncompressed bytes written into the tar stream. On error dst is removed
// and the collected files are left for the caller.
func (a *Archiver) Write(ctx context.Context, dst string, m *Manifest, coll *Collection) (size int64, err error) {
	aw, err := a.setupWriters(dst)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := aw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finalize archive: %w", cerr)
		}
		if err != nil {
			os.Remove(dst) //nolint:errcheck // partial archive
			size = 0
		}
	}()

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	hdr := &tar.Header{
		Name:    manifestEntry,
		Size:    int64(len(manifestJSON)),
		Mode:    0o640,
		ModTime: m.CreatedAt,
	}
	if err := aw.tarWriter.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("failed to write manifest header: %w", err)
	}
	if _, err := aw.tarWriter.Write(manifestJSON); err != nil {
		return 0, fmt.Errorf("failed to write manifest: %w", err)
	}
	size += int64(len(manifestJSON))

	for _, k := range coll.Kinds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := a.addFile(ctx, aw.tarWriter, k.Path, m.Kinds[k.Kind].File, m)
		if err != nil {
			return 0, fmt.Errorf("failed to archive %s: %w", k.Kind, err)
		}
		size += n
	}

	if err := aw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize archive: %w", err)
	}
	aw.closers = nil

	removeFiles(coll.Paths())
	return size, nil
}

//nolint:gosec // G304: src is a collected data file
func (a *Archiver) addFile(ctx context.Context, tw *tar.Writer, src, name string, m *Manifest) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	hdr := &tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0o640,
		ModTime: m.CreatedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	return io.Copy(tw, ctxReader{ctx: ctx, r: f})
}

// Extracted is an unpacked container.
type Extracted struct {
	Manifest *Manifest

	// Files maps kind name to the extracted data file.
	Files map[string]string
}

// ReadManifest returns the manifest member of a plaintext container without
// extracting the data files.
//
//nolint:gosec // G304: path comes from the job ledger
func (a *Archiver) ReadManifest(src string) (*Manifest, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	cr, err := compressorForName(src).NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable container: %v", ErrIntegrityFailure, err)
	}
	defer cr.Close() //nolint:errcheck // read-only

	tr := tar.NewReader(cr)
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable container: %v", ErrIntegrityFailure, err)
	}
	if hdr.Name != manifestEntry {
		return nil, fmt.Errorf("%w: first member is %q, want %s", ErrIntegrityFailure, hdr.Name, manifestEntry)
	}
	data, err := io.ReadAll(io.LimitReader(tr, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read manifest: %v", ErrIntegrityFailure, err)
	}
	return decodeManifest(data)
}

// Extract unpacks the plaintext container src into destDir. Only the
// manifest and data files named by it are accepted; anything else, or any
// member escaping destDir, is an integrity failure.
//
//nolint:gosec // G304: src comes from the job ledger
func (a *Archiver) Extract(ctx context.Context, src, destDir string) (*Extracted, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	cr, err := compressorForName(src).NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable container: %v", ErrIntegrityFailure, err)
	}
	defer cr.Close() //nolint:errcheck // read-only

	tr := tar.NewReader(cr)
	out := &Extracted{Files: make(map[string]string)}
	byFile := make(map[string]string)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read tar entry: %v", ErrIntegrityFailure, err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}

		if out.Manifest == nil {
			if hdr.Name != manifestEntry {
				return nil, fmt.Errorf("%w: first member is %q, want %s", ErrIntegrityFailure, hdr.Name, manifestEntry)
			}
			data, err := io.ReadAll(io.LimitReader(tr, maxManifestSize))
			if err != nil {
				return nil, fmt.Errorf("%w: failed to read manifest: %v", ErrIntegrityFailure, err)
			}
			m, err := decodeManifest(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIntegrityFailure, err)
			}
			out.Manifest = m
			for kind, mk := range m.Kinds {
				byFile[mk.File] = kind
			}
			continue
		}

		kind, ok := byFile[hdr.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected archive member %q", ErrIntegrityFailure, hdr.Name)
		}
		dest, err := validateAndBuildDestPath(destDir, hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := extractMember(ctx, tr, dest, hdr.Size); err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
		out.Files[kind] = dest
	}

	if out.Manifest == nil {
		return nil, fmt.Errorf("%w: archive has no manifest", ErrIntegrityFailure)
	}
	for _, kind := range out.Manifest.ModelsBackedUp {
		if _, ok := out.Files[kind]; !ok {
			return nil, fmt.Errorf("%w: data file for %s missing from archive", ErrIntegrityFailure, kind)
		}
	}
	return out, nil
}

// validateAndBuildDestPath joins name under dir, rejecting traversal.
func validateAndBuildDestPath(dir, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: invalid file path in archive: %s", ErrIntegrityFailure, name)
	}
	dest := filepath.Join(dir, filepath.FromSlash(clean))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: invalid file path in archive: %s", ErrIntegrityFailure, name)
	}
	return dest, nil
}

//nolint:gosec // G304: dest is validated by the caller
func extractMember(ctx context.Context, r io.Reader, dest string, size int64) (err error) {
	if size > maxMemberSize {
		return fmt.Errorf("member too large: %d bytes (max %d)", size, int64(maxMemberSize))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest) //nolint:errcheck // partial member
		}
	}()

	n, err := io.Copy(out, io.LimitReader(ctxReader{ctx: ctx, r: r}, size+1))
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("%w: member size %d, header says %d", ErrIntegrityFailure, n, size)
	}
	return nil
}

// syncCloser fsyncs a file before closing it.
type syncCloser struct{ f *os.File }

func (s syncCloser) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close() //nolint:errcheck // already failing
		return err
	}
	return s.f.Close()
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
