// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	gobreaker "github.com/sony/gobreaker/v2"
)

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestObjectKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix, job, file, want string
	}{
		{"", "j1", "/tmp/backup_j1.tar.gz.enc", "backups/j1/backup_j1.tar.gz.enc"},
		{"/warehouse/", "j2", "backup_j2.tar", "warehouse/backups/j2/backup_j2.tar"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.job, tt.file); got != tt.want {
			t.Errorf("ObjectKey(%q,%q,%q) = %q, want %q", tt.prefix, tt.job, tt.file, got, tt.want)
		}
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	work := t.TempDir()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "mirror"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	src := writeTemp(t, work, "backup_a.tar.gz", []byte("artifact bytes"))
	loc, err := store.Upload(ctx, src, ObjectKey("", "a", src))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(loc, "file://") {
		t.Errorf("expected file:// location, got %s", loc)
	}

	dst := filepath.Join(work, "downloaded")
	if _, err := store.Download(ctx, loc, dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "artifact bytes" {
		t.Errorf("unexpected download content %q", got)
	}

	if err := store.Delete(ctx, loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, loc); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if _, err := store.Download(ctx, loc, dst); !errors.Is(err, ErrDownload) {
		t.Errorf("expected ErrDownload after delete, got %v", err)
	}
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	t.Parallel()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := writeTemp(t, t.TempDir(), "x", []byte("x"))
	if _, err := store.Upload(context.Background(), src, "../../etc/passwd"); !errors.Is(err, ErrUpload) {
		t.Errorf("expected ErrUpload for escaping key, got %v", err)
	}
	if err := store.Delete(context.Background(), "file:///etc/passwd"); !errors.Is(err, ErrDelete) {
		t.Errorf("expected ErrDelete for foreign location, got %v", err)
	}
}

func TestNoopStore(t *testing.T) {
	t.Parallel()
	var s Store = NoopStore{}
	loc, err := s.Upload(context.Background(), "/nope", "k")
	if err != nil || loc != "" {
		t.Errorf("expected empty location and nil error, got %q %v", loc, err)
	}
	if _, err := s.Download(context.Background(), "s3://b/k", "/tmp/x"); !errors.Is(err, ErrDownload) {
		t.Errorf("expected ErrDownload, got %v", err)
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Name() string { return "flaky" }
func (f *failingStore) Upload(context.Context, string, string) (string, error) {
	f.calls++
	return "", ErrUpload
}
func (f *failingStore) Download(context.Context, string, string) (string, error) {
	f.calls++
	return "", ErrDownload
}
func (f *failingStore) Delete(context.Context, string) error {
	f.calls++
	return ErrDelete
}

func TestBreakerStoreOpensAfterFailures(t *testing.T) {
	t.Parallel()
	inner := &failingStore{}
	b := NewBreakerStore(inner, BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		if _, err := b.Upload(context.Background(), "p", "k"); !errors.Is(err, ErrUpload) {
			t.Fatalf("attempt %d: expected ErrUpload, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen.String() {
		t.Fatalf("expected open breaker, got %s", b.State())
	}

	_, err := b.Upload(context.Background(), "p", "k")
	if !errors.Is(err, ErrUpload) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrUpload wrapping ErrOpenState, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected inner store to be skipped while open, got %d calls", inner.calls)
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := newS3StoreWithClient(fake, S3Options{Bucket: "vault"})

	src := writeTemp(t, t.TempDir(), "backup_j.tar.zst", []byte("zstd payload"))
	loc, err := store.Upload(ctx, src, ObjectKey("prod", "j", src))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if loc != "s3://vault/prod/backups/j/backup_j.tar.zst" {
		t.Errorf("unexpected location %s", loc)
	}

	dst := filepath.Join(t.TempDir(), "dl")
	if _, err := store.Download(ctx, loc, dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "zstd payload" {
		t.Errorf("unexpected content %q", got)
	}

	if err := store.Delete(ctx, loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Download(ctx, loc, dst); !errors.Is(err, ErrDownload) {
		t.Errorf("expected ErrDownload, got %v", err)
	}
	if _, _, err := parseS3Location("file:///x"); err == nil {
		t.Error("expected parse error for non-s3 location")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()
	s, err := New(Options{})
	if err != nil || s.Name() != "none" {
		t.Errorf("expected noop default, got %v %v", s, err)
	}
	s, err = New(Options{Backend: BackendFilesystem, LocalDir: t.TempDir()})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := s.(*BreakerStore); !ok {
		t.Errorf("expected breaker-wrapped local store, got %T", s)
	}
	if _, err := New(Options{Backend: "gcs"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := New(Options{Backend: BackendS3}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}
