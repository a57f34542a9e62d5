package cleanup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/logger"
	"medassoc/internal/metrics"
)

const (
	cleanupHour       = 2  // 2 AM
	retentionHours    = 48 // unverified registrations older than this are removed
	maxDeletionPerRun = 25 // Maximum members to delete per run
)

// Report counts what one cleanup run changed
type Report struct {
	UnverifiedMembers int
	ResetTokens       int
	ExpiredMembership int
	Failures          []string
}

func (r Report) Total() int {
	return r.UnverifiedMembers + r.ResetTokens + r.ExpiredMembership
}

// StartCleanupRoutine starts the daily cleanup job. It stops when ctx is cancelled.
// Failed steps are reported to mail's alert recipient.
func StartCleanupRoutine(ctx context.Context, mail email.EmailConfig) {
	go func() {
		logger.LogInfo("Cleanup routine started - will run daily at %d:00 AM", cleanupHour)

		for {
			now := time.Now()
			next := NextRun(now)
			logger.LogInfo("Next cleanup scheduled for %v (in %v)", next.Format("2006-01-02 15:04:05"), next.Sub(now))

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.LogInfo("Cleanup routine stopped")
				return
			case <-timer.C:
			}

			Run(time.Now(), mail)
		}
	}()
}

// NextRun returns the next 2 AM after now, in now's location
func NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run performs one cleanup pass. Each step is independent; a failure is logged and the rest still run.
func Run(now time.Time, mail email.EmailConfig) Report {
	logger.LogInfo("Starting daily cleanup")

	var report Report
	var err error
	fail := func(step string, err error) {
		logger.LogError("Failed to %s: %v", step, err)
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", step, err))
	}

	cutoff := now.Add(-retentionHours * time.Hour)
	report.UnverifiedMembers, err = data.NewMemberRepository().DeleteUnverifiedBefore(cutoff, maxDeletionPerRun)
	if err != nil {
		fail("cleanup unverified registrations", err)
	} else if report.UnverifiedMembers > 0 {
		logger.LogInfo("Removed %d unverified registrations created before %v",
			report.UnverifiedMembers, cutoff.Format("2006-01-02 15:04:05"))
	}

	report.ResetTokens, err = data.NewResetTokenRepository().DeleteStale(now)
	if err != nil {
		fail("cleanup reset tokens", err)
	} else if report.ResetTokens > 0 {
		logger.LogInfo("Removed %d used or expired reset tokens", report.ResetTokens)
	}

	report.ExpiredMembership, err = data.NewMembershipRepository().ExpireLapsed(now)
	if err != nil {
		fail("expire lapsed memberships", err)
	} else if report.ExpiredMembership > 0 {
		logger.LogInfo("Marked %d memberships as expired", report.ExpiredMembership)
	}

	metrics.RecordCleanup("unverified_members", report.UnverifiedMembers)
	metrics.RecordCleanup("reset_tokens", report.ResetTokens)
	metrics.RecordCleanup("expired_memberships", report.ExpiredMembership)

	if len(report.Failures) > 0 {
		body := fmt.Sprintf("The cleanup run at %s had %d failed step(s):\n\n%s\n",
			now.Format(time.RFC3339), len(report.Failures), strings.Join(report.Failures, "\n"))
		if err := email.SendAlertEmail(mail, "Daily cleanup failed", body); err != nil {
			logger.LogError("Failed to send cleanup alert: %v", err)
		}
	}

	if report.Total() == 0 {
		logger.LogDebug("Cleanup completed - nothing to do")
	} else {
		logger.LogInfo("Cleanup completed - %d records changed", report.Total())
	}
	return report
}
