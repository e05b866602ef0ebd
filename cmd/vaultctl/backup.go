// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/warehousevault/internal/app"
	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/remote"
)

type backupFlags struct {
	backupType    string
	models        []string
	storage       string
	retentionDays int
	encrypt       bool
	noEncrypt     bool
	verify        bool
}

func newBackupCmd(c *cli) *cobra.Command {
	f := &backupFlags{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup",
		Long: "Create a backup and wait for it to finish.\n\n" +
			"Types: full, incremental, differential, snapshot, selective.\n" +
			"Storage 'local' keeps the artifact on disk; any other value also uploads\n" +
			"it to the configured remote store, which must match when named.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request(cmd)
			if err != nil {
				return usageError(err)
			}
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				return c.runBackup(cmd, vault, req, f.storage)
			})
		},
	}

	cmd.Flags().StringVarP(&f.backupType, "type", "t", string(ledger.TypeFull), "backup type")
	cmd.Flags().StringSliceVarP(&f.models, "models", "m", nil, "record kinds to back up (default: all)")
	cmd.Flags().StringVarP(&f.storage, "storage", "s", backup.StorageLocal, "storage: local, or the remote backend (s3, filesystem, remote)")
	cmd.Flags().IntVar(&f.retentionDays, "retention-days", 0, "keep this backup for N days instead of the policy default")
	cmd.Flags().BoolVar(&f.encrypt, "encrypt", false, "encrypt the artifact")
	cmd.Flags().BoolVar(&f.noEncrypt, "no-encrypt", false, "do not encrypt the artifact")
	cmd.Flags().BoolVar(&f.verify, "verify", false, "verify the artifact before marking the backup restorable")
	cmd.MarkFlagsMutuallyExclusive("encrypt", "no-encrypt")
	return cmd
}

// request builds the manager request. Encrypt and verify stay nil unless
// given so the configured defaults apply.
func (f *backupFlags) request(cmd *cobra.Command) (backup.BackupRequest, error) {
	typ, err := ledger.ParseBackupType(strings.ToLower(f.backupType))
	if err != nil {
		return backup.BackupRequest{}, err
	}
	if f.retentionDays < 0 {
		return backup.BackupRequest{}, fmt.Errorf("--retention-days cannot be negative")
	}
	req := backup.BackupRequest{
		Type:          typ,
		Kinds:         f.models,
		Upload:        f.storage != backup.StorageLocal,
		RetentionDays: f.retentionDays,
		Principal:     cliPrincipal(),
		Trigger:       ledger.TriggerManual,
	}
	switch {
	case cmd.Flags().Changed("encrypt"):
		req.Encrypt = backup.Bool(f.encrypt)
	case cmd.Flags().Changed("no-encrypt"):
		req.Encrypt = backup.Bool(!f.noEncrypt)
	}
	if cmd.Flags().Changed("verify") {
		req.Verify = backup.Bool(f.verify)
	}
	return req, nil
}

// checkStorage rejects a named backend that differs from the configured one.
func checkStorage(store remote.Store, storage string) error {
	if storage == backup.StorageLocal || storage == "remote" {
		return nil
	}
	if store.Name() != storage {
		return fmt.Errorf("--storage %s requested but the configured remote backend is %s", storage, store.Name())
	}
	return nil
}

func (c *cli) runBackup(cmd *cobra.Command, vault *app.App, req backup.BackupRequest, storage string) error {
	if err := checkStorage(vault.Remote, storage); err != nil {
		return usageError(err)
	}

	if c.output == outputText {
		c.printf("%s\n\n", titleStyle.Render(fmt.Sprintf("==> creating %s backup", req.Type)))
	}
	job, err := vault.Manager.RunBackup(cmd.Context(), req)
	if job == nil {
		return jobError(err)
	}

	if printed, perr := c.printJSON(job); perr != nil {
		return perr
	} else if !printed {
		c.printBackup(job)
	}
	if err != nil {
		return jobError(err)
	}
	if job.Status == ledger.BackupFailed {
		return &exitError{code: reasonCode(job.FailureReason), err: fmt.Errorf("backup %s failed: %s", job.ID, job.ErrorMessage)}
	}
	return nil
}

func (c *cli) printBackup(job *ledger.BackupJob) {
	c.printf("  %s\n", statusLine(string(job.Status)))
	c.field("id", job.ID)
	c.field("type", string(job.Type))
	if job.FellBackToFull {
		c.printf("    %s\n", warnStyle.Render("no usable anchor or native snapshot: captured in full"))
	}
	if job.AnchorJobID != "" {
		c.field("anchor", job.AnchorJobID)
	}
	c.field("records", fmt.Sprintf("%d", job.RecordCount))
	c.field("size", formatBytes(job.SizeBytes))
	if job.CompressionRatio > 0 {
		c.field("compression", fmt.Sprintf("%s (%.2fx)", job.Compression, job.CompressionRatio))
	}
	c.field("encrypted", fmt.Sprintf("%t", job.Encrypted))
	if job.ArtifactLocation != "" {
		c.field("artifact", job.ArtifactLocation)
	}
	if job.RemoteLocation != "" {
		c.field("remote", job.RemoteLocation)
	}
	if job.Checksum != "" {
		c.field("checksum", job.Checksum)
	}
	if d := job.Duration(); d > 0 {
		c.field("duration", d.Round(1e6).String())
	}
	if job.ErrorMessage != "" {
		c.printf("    %s %s\n", dimStyle.Render("error:"), errorStyle.Render(job.ErrorMessage))
	}
	c.printf("\n")
}
