// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/tomtom215/warehousevault/internal/app"
	"github.com/tomtom215/warehousevault/internal/backup"
	"github.com/tomtom215/warehousevault/internal/ledger"
	"github.com/tomtom215/warehousevault/internal/validation"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a backup or restore job",
		Long:  "Show a backup or restore job. The exit code reflects a failed job's failure reason.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				st, err := vault.Manager.GetStatus(cmd.Context(), args[0])
				if err != nil {
					return jobError(err)
				}
				if printed, perr := c.printJSON(st); perr != nil {
					return perr
				} else if !printed {
					c.printf("%s\n\n", titleStyle.Render(fmt.Sprintf("==> %s job %s", st.Kind, args[0])))
					if st.Backup != nil {
						c.printBackup(st.Backup)
					}
					if st.Restore != nil {
						c.printRestore(st.Restore)
					}
				}
				return statusExit(st)
			})
		},
	}
}

// statusExit turns a failed job into its exit code.
func statusExit(st *backup.JobStatus) error {
	switch {
	case st.Backup != nil && st.Backup.Status == ledger.BackupFailed:
		return &exitError{code: reasonCode(st.Backup.FailureReason), err: fmt.Errorf("backup %s failed: %s", st.Backup.ID, st.Backup.ErrorMessage)}
	case st.Restore != nil && st.Restore.Status == ledger.RestoreFailed:
		return &exitError{code: reasonCode(st.Restore.FailureReason), err: fmt.Errorf("restore %s failed: %s", st.Restore.ID, st.Restore.ErrorMessage)}
	}
	return nil
}

func newListCmd(c *cli) *cobra.Command {
	var opts backup.ListOptions
	var typ, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Type = ledger.BackupType(typ)
			opts.Status = ledger.BackupStatus(status)
			if err := validation.ValidateStruct(&opts); err != nil {
				return usageError(err)
			}
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				jobs, err := vault.Manager.ListBackups(cmd.Context(), opts)
				if err != nil {
					return jobError(err)
				}
				if jobs == nil {
					jobs = []*ledger.BackupJob{}
				}
				if printed, perr := c.printJSON(jobs); printed {
					return perr
				}
				c.printBackupTable(jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only backups of this type")
	cmd.Flags().StringVar(&status, "status", "", "only backups in this status")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "only backups created in the last N days")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of backups")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "skip this many backups")
	return cmd
}

func (c *cli) printBackupTable(jobs []*ledger.BackupJob) {
	if len(jobs) == 0 {
		c.printf("%s\n\n", dimStyle.Render("no backups found"))
		c.printf("%s\n", dimStyle.Render("create a backup with: vaultctl backup --type full"))
		return
	}
	c.printf("%s\n\n", titleStyle.Render(fmt.Sprintf("==> backups (%d)", len(jobs))))

	rows := make([][]string, 0, len(jobs))
	var total int64
	for _, j := range jobs {
		total += j.SizeBytes
		storage := j.StorageBackend
		if j.RemoteLocation == "" && storage != backup.StorageLocal {
			storage += " (pending)"
		}
		rows = append(rows, []string{
			j.ID,
			string(j.Type),
			statusText(string(j.Status)),
			j.CreatedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", j.RecordCount),
			formatBytes(j.SizeBytes),
			storage,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("86")).
					Bold(true).
					Align(lipgloss.Center)
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}).
		Headers("id", "type", "status", "created", "records", "size", "storage").
		Rows(rows...)

	c.printf("%s\n\n", t)
	c.printf("%s\n", dimStyle.Render("  total: "+formatBytes(total)))
}

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Apply the retention policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				res, err := vault.Manager.Sweep(cmd.Context())
				if err != nil {
					return jobError(err)
				}
				if printed, perr := c.printJSON(res); perr != nil {
					return perr
				} else if !printed {
					c.printf("%s\n\n", titleStyle.Render("==> retention sweep"))
					c.field("retention days", fmt.Sprintf("%d", res.RetentionDays))
					c.field("deleted", fmt.Sprintf("%d", len(res.Deleted)))
					c.field("local copies pruned", fmt.Sprintf("%d", len(res.LocalPruned)))
					c.field("kept", fmt.Sprintf("%d", res.Kept))
					c.field("freed", formatBytes(res.FreedBytes))
					for _, e := range res.Errors {
						c.printf("    %s\n", warnStyle.Render(e))
					}
				}
				if len(res.Errors) > 0 {
					return &exitError{code: exitFailed, err: fmt.Errorf("%d backups could not be removed", len(res.Errors))}
				}
				return nil
			})
		},
	}
}

func newVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Re-check a backup's checksum and manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withVault(cmd.Context(), func(vault *app.App) error {
				res, err := vault.Manager.VerifyBackup(cmd.Context(), args[0])
				if err != nil {
					return jobError(err)
				}
				if printed, perr := c.printJSON(res); perr != nil {
					return perr
				} else if !printed {
					c.printf("%s\n\n", titleStyle.Render("==> verifying backup "+res.BackupID))
					if res.Valid {
						c.printf("  %s\n", successStyle.Render("valid"))
					} else {
						c.printf("  %s\n", errorStyle.Render("INVALID"))
					}
					c.field("source", res.Source)
					c.field("expected", res.Expected)
					if res.Actual != "" {
						c.field("actual", res.Actual)
					}
					for _, e := range res.Errors {
						c.printf("    %s\n", errorStyle.Render(e))
					}
				}
				if !res.Valid {
					return &exitError{code: exitIntegrity, err: fmt.Errorf("backup %s failed verification", res.BackupID)}
				}
				return nil
			})
		},
	}
}

// cliPrincipal records the invoking OS user on jobs.
func cliPrincipal() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return "cli:" + name
	}
	return "cli"
}

func statusText(status string) string {
	color := "10"
	switch status {
	case string(ledger.BackupFailed):
		color = "9"
	case string(ledger.BackupPending), string(ledger.BackupRunning), string(ledger.BackupVerifying), string(ledger.RestoreValidating):
		color = "14"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(status)
}

func statusLine(status string) string {
	return dimStyle.Render("status:") + " " + statusText(strings.ToLower(status))
}

func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d bytes", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f kb", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f mb", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.2f gb", float64(n)/(1024*1024*1024))
	}
}
