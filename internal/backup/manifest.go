// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/warehousevault/internal/ledger"
)

// ManifestFormatVersion is bumped on incompatible manifest changes.
const ManifestFormatVersion = 1

// manifestEntry is the archive member holding the manifest.
const manifestEntry = "manifest.json"

// dataDir is the archive directory holding one data file per kind.
const dataDir = "data"

// Restore modes recorded per kind.
const (
	ModeReplace = "replace"
	ModeMerge   = "merge"
)

// Manifest describes an artifact. It is the first archive member and is
// also written unencrypted beside the artifact.
type Manifest struct {
	FormatVersion int               `json:"format_version"`
	BackupID      string            `json:"backup_id"`
	BackupType    ledger.BackupType `json:"backup_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Principal     string            `json:"principal,omitempty"`
	Trigger       ledger.Trigger    `json:"trigger"`

	ModelsBackedUp       []string         `json:"models_backed_up"`
	PerKindCounts        map[string]int64 `json:"per_kind_counts"`
	IncrementalFallbacks []string         `json:"incremental_fallbacks"`

	// Since is the lower bound applied to incremental kinds, if any.
	Since       *time.Time `json:"since,omitempty"`
	AnchorJobID string     `json:"anchor_job_id,omitempty"`

	// FellBackToFull is set when the requested type ran as a full capture.
	FellBackToFull bool `json:"fell_back_to_full,omitempty"`

	Kinds map[string]ManifestKind `json:"kinds"`

	Compression     string `json:"compression"`
	ProducerVersion string `json:"producer_version"`
}

// ManifestKind describes one kind's data file.
type ManifestKind struct {
	File  string `json:"file"`
	Rows  int64  `json:"rows"`
	Bytes int64  `json:"bytes"`

	// Mode is ModeReplace for complete captures and ModeMerge for deltas.
	Mode string `json:"mode"`
}

// newManifest builds the manifest for a finished collection.
func newManifest(job *ledger.BackupJob, coll *Collection, compression, version string) *Manifest {
	m := &Manifest{
		FormatVersion:        ManifestFormatVersion,
		BackupID:             job.ID,
		BackupType:           job.Type,
		CreatedAt:            job.CreatedAt.UTC(),
		Principal:            job.Principal,
		Trigger:              job.Trigger,
		ModelsBackedUp:       make([]string, 0, len(coll.Kinds)),
		PerKindCounts:        make(map[string]int64, len(coll.Kinds)),
		IncrementalFallbacks: coll.Fallbacks(),
		Since:                coll.Since,
		AnchorJobID:          job.AnchorJobID,
		FellBackToFull:       job.FellBackToFull,
		Kinds:                make(map[string]ManifestKind, len(coll.Kinds)),
		Compression:          compression,
		ProducerVersion:      version,
	}
	for _, k := range coll.Kinds {
		m.ModelsBackedUp = append(m.ModelsBackedUp, k.Kind)
		m.PerKindCounts[k.Kind] = k.Rows
		mode := ModeMerge
		if k.Complete {
			mode = ModeReplace
		}
		m.Kinds[k.Kind] = ManifestKind{
			File:  dataDir + "/" + filepath.Base(k.Path),
			Rows:  k.Rows,
			Bytes: k.Bytes,
			Mode:  mode,
		}
	}
	return m
}

// Mode returns the restore mode for kind.
func (m *Manifest) Mode(kind string) string {
	if k, ok := m.Kinds[kind]; ok && k.Mode != "" {
		return k.Mode
	}
	return ModeReplace
}

// Has reports whether kind was captured.
func (m *Manifest) Has(kind string) bool {
	_, ok := m.Kinds[kind]
	return ok
}

func (m *Manifest) validate() error {
	if m.FormatVersion > ManifestFormatVersion {
		return fmt.Errorf("manifest format %d is newer than supported %d", m.FormatVersion, ManifestFormatVersion)
	}
	if m.BackupID == "" {
		return fmt.Errorf("manifest has no backup_id")
	}
	for _, name := range m.ModelsBackedUp {
		if _, ok := m.Kinds[name]; !ok {
			return fmt.Errorf("manifest lists %s without a data file", name)
		}
	}
	return nil
}

// ManifestPath is the sidecar location for an artifact.
func ManifestPath(dir, backupID string) string {
	return filepath.Join(dir, "backup_"+backupID+".manifest.json")
}

func writeManifestFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o640); err != nil { //nolint:gosec // path inside backup dir
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // best effort
		return fmt.Errorf("failed to finalize manifest: %w", err)
	}
	return nil
}

// ReadManifestFile reads a manifest sidecar.
func ReadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller supplies a sidecar path
	if err != nil {
		return nil, err
	}
	return decodeManifest(data)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
