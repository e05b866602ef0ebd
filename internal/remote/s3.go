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
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/tomtom215/warehousevault/internal/logging"
)

// S3Options configures an S3Store. Endpoint and UsePathStyle allow
// S3-compatible services (MinIO, Ceph RGW).
type S3Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	StorageClass string
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store stores artifacts in an S3 bucket. Locations are s3://bucket/key.
type S3Store struct {
	client s3API
	opts   S3Options
	logger zerolog.Logger
}

// NewS3Store builds an S3 client from static credentials.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	s3opts := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.UsePathStyle,
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" {
		s3opts.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	}
	return newS3StoreWithClient(s3.New(s3opts), opts), nil
}

func newS3StoreWithClient(client s3API, opts S3Options) *S3Store {
	return &S3Store{
		client: client,
		opts:   opts,
		logger: logging.With().Str("component", "s3-store").Str("bucket", opts.Bucket).Logger(),
	}
}

// Name implements Store.
func (s *S3Store) Name() string { return "s3" }

// Upload implements Store. The key is placed under the configured prefix.
func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // artifact path from the backup manager
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	objectKey := strings.TrimPrefix(key, "/")
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(objectKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	}
	if s.opts.StorageClass != "" {
		in.StorageClass = s3types.StorageClass(s.opts.StorageClass)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrUpload, objectKey, err)
	}

	s.logger.Debug().Str("key", objectKey).Int64("bytes", info.Size()).Msg("Uploaded artifact")
	return (&url.URL{Scheme: "s3", Host: s.opts.Bucket, Path: "/" + objectKey}).String(), nil
}

// Download implements Store.
func (s *S3Store) Download(ctx context.Context, location, dstPath string) (path string, err error) {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrDownload, key, err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // work path
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrDownload, cerr)
		}
		if err != nil {
			_ = os.Remove(dstPath)
		}
	}()

	if _, err = io.Copy(f, out.Body); err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrDownload, key, err)
	}
	return dstPath, nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	bucket, key, err := parseS3Location(location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("%w: delete %s: %w", ErrDelete, key, err)
	}
	return nil
}

func parseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 location has no key: %q", location)
	}
	return u.Host, key, nil
}
