package security

import (
	"time"

	"github.com/dataparency-dev/verification-core/types"
)

// ScreenTask scans an incoming task for red flags before distribution
// (adapted from the teacher's malicious-delegator screening). Purely
// advisory — warnings are logged, never block ingestion
// (spec §4.9 Design Notes).
func ScreenTask(task types.VerificationTask) []string {
	var warnings []string

	if task.Requirements.MinSubmissions <= 0 {
		warnings = append(warnings, "task requires zero or negative submissions")
	}

	if task.Requirements.MinReputation > 100 || task.Requirements.MinReputation < 0 {
		warnings = append(warnings, "minReputation outside [0,100] — likely misconfigured")
	}

	// Deadline too tight for the number of submissions it needs.
	remaining := time.Until(task.ExpiresAt)
	needed := time.Duration(task.Requirements.MinSubmissions) * 2 * time.Minute
	if !task.ExpiresAt.IsZero() && remaining > 0 && remaining < needed {
		warnings = append(warnings, "expiry too tight for required submission count")
	}

	if len(task.Content) > 10*1024*1024 {
		warnings = append(warnings, "content payload unusually large for inline storage")
	}

	return warnings
}
