// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression algorithms.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

// Compressor wraps the tar stream of an artifact.
type Compressor interface {
	// Name is recorded on the job.
	Name() string
	// Ext is the artifact file suffix after ".tar", without a dot.
	Ext() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// NewCompressor returns the compressor for algorithm. Level 0 selects the
// algorithm's default.
func NewCompressor(algorithm string, level int) (Compressor, error) {
	switch strings.ToLower(algorithm) {
	case CompressionGzip, "":
		if level == 0 {
			return gzipCompressor{level: gzip.DefaultCompression}, nil
		}
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			return nil, fmt.Errorf("gzip level must be between 1 and 9, got %d", level)
		}
		return gzipCompressor{level: level}, nil
	case CompressionZstd:
		zl := zstd.SpeedDefault
		if level != 0 {
			zl = zstd.EncoderLevelFromZstd(level)
		}
		return zstdCompressor{level: zl}, nil
	case CompressionNone:
		return noneCompressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// compressorForName picks the decompressor from an artifact's file name.
func compressorForName(name string) Compressor {
	base := strings.TrimSuffix(name, ".enc")
	switch {
	case strings.HasSuffix(base, ".tar.gz"):
		return gzipCompressor{level: gzip.DefaultCompression}
	case strings.HasSuffix(base, ".tar.zst"):
		return zstdCompressor{level: zstd.SpeedDefault}
	default:
		return noneCompressor{}
	}
}

type gzipCompressor struct{ level int }

func (gzipCompressor) Name() string { return CompressionGzip }
func (gzipCompressor) Ext() string  { return "gz" }

func (c gzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

func (gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCompressor struct{ level zstd.EncoderLevel }

func (zstdCompressor) Name() string { return CompressionZstd }
func (zstdCompressor) Ext() string  { return "zst" }

func (c zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
}

func (zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return CompressionNone }
func (noneCompressor) Ext() string  { return "" }

func (noneCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
