// WarehouseVault - Backup and Recovery for the MindCare Data Warehouse
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warehousevault

/*
manager_helpers.go - Statistics and Reports

Statistics are computed on demand from the Job Ledger and never cached, so
they always reflect the current history.

Stats:
  - counts by outcome and by type, success rate (0-100)
  - total and average artifact size, average compression ratio
  - average duration of successful backups
  - last successful and last verified backup, next scheduled run

Report adds the failures of the period and operator recommendations.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/warehousevault/internal/ledger"
)

// Report thresholds.
const (
	staleBackupAge        = 24 * time.Hour
	failureRateThreshold  = 10.0
	storageWarningBytes   = int64(100) << 30
	maxReportFailures     = 10
	defaultReportDays     = 30
	maxReportPeriodInDays = 365
)

// Stats aggregates the whole backup history.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	jobs, err := m.ledger.ListBackups(ctx, ledger.BackupFilter{})
	if err != nil {
		return nil, err
	}
	return m.computeStats(jobs), nil
}

func (m *Manager) computeStats(jobs []*ledger.BackupJob) *Stats {
	stats := &Stats{ByType: make(map[ledger.BackupType]*TypeStats)}
	var (
		totalDuration    time.Duration
		totalCompression float64
		compressed       int
	)

	for _, j := range jobs {
		stats.TotalBackups++
		ts := stats.ByType[j.Type]
		if ts == nil {
			ts = &TypeStats{}
			stats.ByType[j.Type] = ts
		}
		ts.Count++
		updateOldestNewest(stats, j)

		switch {
		case j.Status.Restorable():
			stats.Successful++
			ts.Successful++
			ts.TotalSize += j.SizeBytes
			stats.TotalSizeBytes += j.SizeBytes
			stats.TotalRecords += j.RecordCount
			totalDuration += j.Duration()
			if j.CompressionRatio > 0 {
				totalCompression += j.CompressionRatio
				compressed++
			}
			if j.RemoteLocation == "" {
				stats.LocalOnly++
			}
			stats.LastSuccessful = later(stats.LastSuccessful, j.CompletedAt)
			if j.Status == ledger.BackupVerified {
				stats.Verified++
				stats.LastVerified = later(stats.LastVerified, j.CompletedAt)
			}
		case j.Status == ledger.BackupFailed:
			stats.Failed++
		default:
			stats.Running++
		}
	}

	if stats.TotalBackups > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalBackups) * 100
	}
	if stats.Successful > 0 {
		stats.AverageSize = stats.TotalSizeBytes / int64(stats.Successful)
		stats.AverageDuration = (totalDuration / time.Duration(stats.Successful)).Seconds()
	}
	if compressed > 0 {
		stats.AvgCompression = totalCompression / float64(compressed)
	}
	stats.NextScheduled = m.nextRun.Load()
	return stats
}

func updateOldestNewest(stats *Stats, j *ledger.BackupJob) {
	created := j.CreatedAt
	if stats.OldestBackup == nil || created.Before(*stats.OldestBackup) {
		stats.OldestBackup = &created
	}
	if stats.NewestBackup == nil || created.After(*stats.NewestBackup) {
		stats.NewestBackup = &created
	}
}

func later(cur, t *time.Time) *time.Time {
	if t == nil {
		return cur
	}
	if cur == nil || t.After(*cur) {
		v := *t
		return &v
	}
	return cur
}

// Report summarizes the last days of activity. Days outside 1..365 falls
// back to 30.
func (m *Manager) Report(ctx context.Context, days int) (*Report, error) {
	if days <= 0 || days > maxReportPeriodInDays {
		days = defaultReportDays
	}
	now := m.now().UTC()
	jobs, err := m.ledger.ListBackups(ctx, ledger.BackupFilter{
		CreatedAfter: now.AddDate(0, 0, -days),
	})
	if err != nil {
		return nil, err
	}

	report := &Report{
		PeriodDays:      days,
		GeneratedAt:     now,
		Stats:           m.computeStats(jobs),
		RecentFailures:  []FailureSummary{},
		Recommendations: []string{},
	}
	for _, j := range jobs {
		if j.Status != ledger.BackupFailed {
			continue
		}
		report.RecentFailures = append(report.RecentFailures, FailureSummary{
			ID:        j.ID,
			Type:      j.Type,
			CreatedAt: j.CreatedAt,
			Reason:    j.FailureReason,
			Error:     j.ErrorMessage,
		})
		if len(report.RecentFailures) == maxReportFailures {
			break
		}
	}

	// Verification and recency are judged on the whole history, not the period.
	all, err := m.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Recommendations = recommendations(report.Stats, all, now)
	return report, nil
}

func recommendations(period, all *Stats, now time.Time) []string {
	out := []string{}
	if all.LastSuccessful == nil || now.Sub(*all.LastSuccessful) > staleBackupAge {
		out = append(out, "No successful backup in the last 24 hours; check the scheduler and recent failures.")
	}
	finished := period.Successful + period.Failed
	if finished > 0 {
		rate := float64(period.Failed) / float64(finished) * 100
		if rate > failureRateThreshold {
			out = append(out, fmt.Sprintf("Backup failure rate is %.1f%%; investigate the failure reasons listed in this report.", rate))
		}
	}
	if all.TotalSizeBytes > storageWarningBytes {
		out = append(out, fmt.Sprintf("Backups use %s; consider a shorter retention window or remote-only retention.", humanBytes(all.TotalSizeBytes)))
	}
	if all.Successful > 0 && all.LastVerified == nil {
		out = append(out, "No backup has been verified; enable verification or run verify on recent backups.")
	}
	if all.LocalOnly > 0 {
		out = append(out, fmt.Sprintf("%d backups exist only on local disk; configure a remote store for off-site copies.", all.LocalOnly))
	}
	return out
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// randomSuffix keeps concurrent verifications of one backup apart.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
