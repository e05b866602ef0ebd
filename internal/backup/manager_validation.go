// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
manager_validation.go - Artifact Integrity

The checksum recorded on a job is the SHA-256 of the compressed container
before encryption. Verification therefore decrypts on the fly (when the
artifact is encrypted) and hashes the plaintext stream, so an encrypted
artifact is never written to disk in clear just to be checked.

Authentication failures from the decryptor are integrity failures. A key
that cannot be resolved is reported separately as ErrKeyUnavailable.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/tomtom215/warehousevault/internal/encryption"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/logging"
	"github.com/tomtom215/warehousevault/internal/metrics"
)

// Artifact sources reported by VerifyBackup.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// VerifyBackup recomputes the digest of a completed backup and compares it
// with the ledger. Remote-only artifacts are downloaded to a temporary
// location first. The job's status is not changed.
func (m *Manager) VerifyBackup(ctx context.Context, id string) (*VerificationResult, error) {
	job, err := m.ledger.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Restorable() {
		return nil, fmt.Errorf("%w: backup %s is %s", ErrNotRestorable, id, job.Status)
	}

	result := &VerificationResult{
		BackupID:  id,
		Expected:  job.Checksum,
		CheckedAt: m.now().UTC(),
	}

	workDir := m.cfg.WorkDir("verify-" + id + "-" + randomSuffix())
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir) //nolint:errcheck // best effort

	artifact, source, err := m.fetchArtifact(ctx, job, workDir)
	if err != nil {
		if errors.Is(err, ErrIntegrityFailure) {
			result.Errors = append(result.Errors, err.Error())
			metrics.IntegrityFailures.WithLabelValues("verify").Inc()
			return result, nil
		}
		return nil, err
	}
	result.Source = source

	actual, err := m.plaintextDigest(ctx, job, artifact)
	if err != nil {
		if errors.Is(err, ErrIntegrityFailure) {
			result.Errors = append(result.Errors, err.Error())
			metrics.IntegrityFailures.WithLabelValues("verify").Inc()
			return result, nil
		}
		return nil, err
	}
	result.Actual = actual
	result.Valid = equalDigests(actual, job.Checksum)
	if !result.Valid {
		result.Errors = append(result.Errors, "checksum mismatch")
		metrics.IntegrityFailures.WithLabelValues("verify").Inc()
	}

	if job.ManifestLocation != "" {
		if manifest, err := ReadManifestFile(job.ManifestLocation); err == nil {
			result.Manifest = manifest
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("manifest sidecar unreadable: %v", err))
		}
	}

	logging.Ctx(ctx).Info().
		Str("backup_id", id).
		Bool("valid", result.Valid).
		Str("source", source).
		Msg("Backup verification finished")
	return result, nil
}

// verifyJobArtifact is the verifying step of the backup state machine.
func (m *Manager) verifyJobArtifact(ctx context.Context, job *ledger.BackupJob) error {
	actual, err := m.plaintextDigest(ctx, job, job.ArtifactLocation)
	if err != nil {
		return err
	}
	if !equalDigests(actual, job.Checksum) {
		return fmt.Errorf("%w: checksum mismatch (expected %s, got %s)", ErrIntegrityFailure, job.Checksum, actual)
	}
	return nil
}

// plaintextDigest hashes the compressed container held in artifact,
// decrypting in the stream when the job is encrypted.
//
//nolint:gosec // G304: artifact path comes from the job ledger or our work dir
func (m *Manager) plaintextDigest(ctx context.Context, job *ledger.BackupJob, artifact string) (string, error) {
	f, err := os.Open(artifact)
	if err != nil {
		return "", fmt.Errorf("%w: artifact unreadable: %v", ErrIntegrityFailure, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var r io.Reader = f
	if job.Encrypted {
		if m.encryptor == nil {
			return "", fmt.Errorf("%w: no key provider configured", ErrKeyUnavailable)
		}
		r, err = m.encryptor.OpenReader(ctx, bufio.NewReaderSize(f, checksumBufferSize), job.EncryptionKeyRef)
		if err != nil {
			return "", asIntegrity(err)
		}
	}

	sum, err := DigestReader(ctx, r)
	if err != nil {
		return "", asIntegrity(err)
	}
	return sum, nil
}

// fetchArtifact returns a readable path for the job's artifact, downloading
// it into workDir when only the remote copy exists.
func (m *Manager) fetchArtifact(ctx context.Context, job *ledger.BackupJob, workDir string) (string, string, error) {
	if job.ArtifactLocation != "" {
		if _, err := os.Stat(job.ArtifactLocation); err == nil {
			return job.ArtifactLocation, SourceLocal, nil
		}
	}
	if job.RemoteLocation == "" {
		return "", "", fmt.Errorf("%w: artifact %q is missing and no remote copy exists", ErrIntegrityFailure, job.ArtifactLocation)
	}

	dst := filepath.Join(workDir, path.Base(job.RemoteLocation))
	logging.Ctx(ctx).Info().Str("remote_location", job.RemoteLocation).Msg("Downloading remote-only artifact")
	p, err := m.remote.Download(ctx, job.RemoteLocation, dst)
	if err != nil {
		if !errors.Is(err, ErrRemoteDownload) {
			err = fmt.Errorf("%w: %v", ErrRemoteDownload, err)
		}
		return "", "", err
	}
	return p, SourceRemote, nil
}

// asIntegrity maps decryptor authentication failures to ErrIntegrityFailure.
func asIntegrity(err error) error {
	if errors.Is(err, encryption.ErrIntegrity) && !errors.Is(err, ErrIntegrityFailure) {
		return fmt.Errorf("%w: %v", ErrIntegrityFailure, err)
	}
	return err
}
