// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/warehousevault/internal/app"
	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
)

type restoreFlags struct {
	models      []string
	dryRun      bool
	noRollback  bool
	pointInTime string
}

func newRestoreCmd(c *cli) *cobra.Command {
	f := &restoreFlags{}
	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup into the warehouse",
		Long: "Restore a completed or verified backup and wait for it to finish.\n\n" +
			"A safety snapshot is taken first and restored automatically if the\n" +
			"restore fails after writing. --dry-run only reports what would change.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args[0])
			if err != nil {
				return usageError(err)
			}
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				return c.runRestore(cmd, vault, req)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&f.models, "models", "m", nil, "record kinds to restore (default: every kind in the backup)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report planned changes without writing")
	cmd.Flags().BoolVar(&f.noRollback, "no-rollback", false, "skip the safety snapshot and automatic rollback")
	cmd.Flags().StringVar(&f.pointInTime, "point-in-time", "", "skip rows modified after this RFC 3339 instant")
	return cmd
}

func (f *restoreFlags) request(backupID string) (backup.RestoreRequest, error) {
	req := backup.RestoreRequest{
		BackupID:          backupID,
		Kinds:             f.models,
		DryRun:            f.dryRun,
		RollbackOnFailure: !f.noRollback,
		Principal:         cliPrincipal(),
		Trigger:           ledger.TriggerManual,
	}
	if f.pointInTime != "" {
		pit, err := time.Parse(time.RFC3339, f.pointInTime)
		if err != nil {
			return backup.RestoreRequest{}, fmt.Errorf("invalid --point-in-time: %w", err)
		}
		req.PointInTime = &pit
	}
	return req, nil
}

func (c *cli) runRestore(cmd *cobra.Command, vault *app.App, req backup.RestoreRequest) error {
	if c.output == outputText {
		verb := "restoring"
		if req.DryRun {
			verb = "planning restore of"
		}
		c.printf("%s\n\n", titleStyle.Render(fmt.Sprintf("==> %s backup %s", verb, req.BackupID)))
	}
	job, err := vault.Manager.RunRestore(cmd.Context(), req)
	if job == nil {
		return jobError(err)
	}

	if printed, perr := c.printJSON(job); perr != nil {
		return perr
	} else if !printed {
		c.printRestore(job)
	}
	if err != nil {
		return jobError(err)
	}
	if job.Status == ledger.RestoreFailed {
		return &exitError{code: reasonCode(job.FailureReason), err: fmt.Errorf("restore %s failed: %s", job.ID, job.ErrorMessage)}
	}
	return nil
}

func (c *cli) printRestore(job *ledger.RestoreJob) {
	c.printf("  %s\n", statusLine(string(job.Status)))
	c.field("id", job.ID)
	c.field("backup", job.BackupJobID)
	if job.PointInTime != nil {
		c.field("point in time", job.PointInTime.Format(time.RFC3339))
	}

	if job.DryRun {
		c.printf("\n    %s\n", dimStyle.Render("planned changes:"))
		for _, kind := range sortedKeys(job.Plan) {
			p := job.Plan[kind]
			c.printf("      %-24s %-7s +%d ~%d -%d =%d\n", kind, p.Mode, p.Create, p.Update, p.Delete, p.Unchanged)
		}
	} else {
		c.field("records restored", fmt.Sprintf("%d", job.RecordsRestored))
		if job.RollbackBackupID != "" {
			c.field("safety snapshot", job.RollbackBackupID)
		}
	}

	if v := job.Validation; v != nil && !v.Passed {
		c.printf("\n    %s\n", errorStyle.Render("validation failed:"))
		for _, chk := range v.Checks {
			if !chk.Passed {
				c.printf("      %s %s: expected %d, got %d\n", chk.Kind, chk.Check, chk.Expected, chk.Actual)
			}
		}
	}
	if job.RolledBack {
		c.printf("    %s\n", warnStyle.Render("restore failed after writing; rolled back to the safety snapshot"))
	} else if job.RollbackRequired {
		c.printf("    %s\n", errorStyle.Render("restore failed after writing and was NOT rolled back"))
	}
	if job.ErrorMessage != "" {
		c.printf("    %s %s\n", dimStyle.Render("error:"), errorStyle.Render(job.ErrorMessage))
	}
	c.printf("\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
