package fraud

import (
	"time"

	"github.com/dataparency-dev/verification-core/activity"
	"github.com/dataparency-dev/verification-core/types"
)

// detectPattern implements the pattern-based sub-detector (spec §4.3).
// Requires >= 10 recent activities; first matching rule wins, in order:
// (a) tasks-per-hour cap, (b) dominant task type, (c) one-sided decision
// ratio, (d) low interval uniqueness.
func detectPattern(recent []types.WorkerActivity, maxTasksPerHour int) (float64, string) {
	if len(recent) < 10 {
		return 0, ""
	}

	if tph := activity.TasksPerHour(recent); tph > float64(maxTasksPerHour) {
		return 0.8, "tasks-per-hour exceeds cap"
	}

	if ratio := dominantTaskTypeRatio(recent); ratio > 0.9 {
		return 0.6, "overwhelmingly one task type"
	}

	if ratio := decisionRatio(recent); ratio > 0.95 {
		return 0.7, "overwhelmingly one-sided decisions"
	}

	intervals := activity.Intervals(recent)
	if len(intervals) > 5 {
		uniqueFraction := intervalUniqueFraction(intervals)
		if uniqueFraction < 0.3 {
			return 0.9, "submission intervals are suspiciously repetitive"
		}
	}

	return 0, ""
}

func dominantTaskTypeRatio(recent []types.WorkerActivity) float64 {
	counts := make(map[types.TaskType]int, len(recent))
	for _, a := range recent {
		counts[a.TaskType]++
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return float64(max) / float64(len(recent))
}

func decisionRatio(recent []types.WorkerActivity) float64 {
	var approved, rejected int
	for _, a := range recent {
		switch a.Decision {
		case types.DecisionApproved:
			approved++
		case types.DecisionRejected:
			rejected++
		}
	}
	total := float64(len(recent))
	ar := float64(approved) / total
	rr := float64(rejected) / total
	if ar > rr {
		return ar
	}
	return rr
}

// intervalUniqueFraction rounds each interval to the nearest second before
// deduplicating, so that near-identical machine-paced gaps collapse to the
// same bucket while organic human timing does not.
func intervalUniqueFraction(intervals []time.Duration) float64 {
	seen := make(map[time.Duration]struct{}, len(intervals))
	for _, iv := range intervals {
		seen[iv.Round(time.Second)] = struct{}{}
	}
	return float64(len(seen)) / float64(len(intervals))
}
