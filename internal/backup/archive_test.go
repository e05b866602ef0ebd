// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/warehousevault/internal/ledger"
)

func TestDigestKnownValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc")
	if err := os.WriteFile(path, []byte("abc"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Digest(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	ok, err := Verify(context.Background(), path, want)
	if err != nil || !ok {
		t.Errorf("expected match, got %v %v", ok, err)
	}
	ok, _ = Verify(context.Background(), path, strings.Repeat("0", 64))
	if ok {
		t.Error("expected mismatch")
	}
}

func TestEqualDigests(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		if got := equalDigests(tt.a, tt.b); got != tt.want {
			t.Errorf("equalDigests(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"id":"m01","data":{"score":7}}`+"\n"), 200)
	for _, alg := range []string{CompressionGzip, CompressionZstd, CompressionNone} {
		t.Run(alg, func(t *testing.T) {
			c, err := NewCompressor(alg, 0)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			w, err := c.NewWriter(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}
			if alg != CompressionNone && buf.Len() >= len(payload) {
				t.Errorf("expected compression, %d >= %d", buf.Len(), len(payload))
			}

			r, err := c.NewReader(&buf)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("round trip changed the payload")
			}
		})
	}
}

func TestNewCompressorRejectsBadInput(t *testing.T) {
	if _, err := NewCompressor(CompressionGzip, 12); err == nil {
		t.Error("expected gzip level error")
	}
	if _, err := NewCompressor("lz4", 0); err == nil {
		t.Error("expected unsupported algorithm error")
	}
}

func TestArtifactName(t *testing.T) {
	gz, _ := NewCompressor(CompressionGzip, 0)
	none, _ := NewCompressor(CompressionNone, 0)
	if got := ArtifactName("abc", gz, true); got != "backup_abc.tar.gz.enc" {
		t.Errorf("unexpected name %s", got)
	}
	if got := ArtifactName("abc", none, false); got != "backup_abc.tar" {
		t.Errorf("unexpected name %s", got)
	}
	if c := compressorForName("backup_abc.tar.zst.enc"); c.Name() != CompressionZstd {
		t.Errorf("expected zstd for .tar.zst.enc, got %s", c.Name())
	}
}

func TestManifestModeDefaultsToReplace(t *testing.T) {
	m := &Manifest{Kinds: map[string]ManifestKind{
		"users":        {File: "data/users.ndjson", Mode: ModeMerge},
		"mood_entries": {File: "data/mood_entries.ndjson"},
	}}
	if m.Mode("users") != ModeMerge {
		t.Error("expected merge")
	}
	if m.Mode("mood_entries") != ModeReplace {
		t.Error("missing mode must read as replace")
	}
	if m.Has("settings") {
		t.Error("settings was not captured")
	}
}

func TestValidateAndBuildDestPath(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"data/users.ndjson", false},
		{"../escape.ndjson", true},
		{"data/../../escape.ndjson", true},
		{"/etc/passwd", true},
		{"..", true},
	}
	for _, tt := range tests {
		_, err := validateAndBuildDestPath(dir, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrIntegrityFailure) {
			t.Errorf("%s: expected integrity failure, got %v", tt.name, err)
		}
	}
}

func TestExtractRejectsForeignFirstMember(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte(`{"id":"x"}`)
	if err := tw.WriteHeader(&tar.Header{Name: "data/users.ndjson", Mode: 0o600, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "backup_x.tar")
	if err := os.WriteFile(src, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	none, _ := NewCompressor(CompressionNone, 0)
	_, err := NewArchiver(none).Extract(context.Background(), src, t.TempDir())
	if !errors.Is(err, ErrIntegrityFailure) {
		t.Errorf("expected integrity failure, got %v", err)
	}
}

func TestExtractRejectsTruncatedContainer(t *testing.T) {
	env := newTestEnv(t)
	m := env.newManager(t)
	seedAll(t, env.src, testEpoch)
	job := mustRunBackup(t, m, BackupRequest{Type: ledger.TypeFull, Encrypt: Bool(false)})

	data, err := os.ReadFile(job.ArtifactLocation)
	if err != nil {
		t.Fatal(err)
	}
	cut := filepath.Join(t.TempDir(), filepath.Base(job.ArtifactLocation))
	if err := os.WriteFile(cut, data[:len(data)/2], 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.archiver.Extract(context.Background(), cut, t.TempDir()); err == nil {
		t.Error("expected error for truncated container")
	}
}
