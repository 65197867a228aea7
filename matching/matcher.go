// Package matching implements C6: filters workers eligible for a task and
// ranks them by a strategy-weighted composite score (spec §4.6).
package matching

import (
	"fmt"
	"sort"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/types"
)

// Match is one ranked candidate.
type Match struct {
	WorkerID string
	Score    float64
}

// priorityReputationMultiplier lets higher-priority tasks demand more
// reputation while low-priority tasks tolerate less than the base floor
// (spec §4.6).
func priorityReputationMultiplier(p types.Priority) float64 {
	switch p {
	case types.PriorityHigh:
		return 1.2
	case types.PriorityMedium:
		return 1.0
	case types.PriorityLow:
		return 0.8
	default:
		return 1.0
	}
}

// basePriorityScaled scales a base threshold by the same priority
// multiplier the reputation floor uses, so the accuracy and consistency
// gates below tighten for high-priority tasks exactly as reputation does
// (spec §4.6).
func basePriorityScaled(base float64, p types.Priority) float64 {
	return base * priorityReputationMultiplier(p)
}

// eligible reports whether a worker profile clears every gate for a task:
// availability, per-task-type skill floor for the required level, a
// priority-scaled reputation floor, and — once a worker has per-task-type
// metrics — priority-scaled accuracy and consistency floors (spec §4.6).
func eligible(task types.VerificationTask, p types.WorkerProfile) bool {
	if p.Status != types.WorkerAvailable {
		return false
	}
	if p.Skills[task.TaskType] < task.Requirements.WorkerLevel.SkillFloor() {
		return false
	}
	reputationFloor := task.Requirements.MinReputation * priorityReputationMultiplier(task.Priority)
	if p.ReputationScore < reputationFloor {
		return false
	}
	if m, ok := p.Metrics[task.TaskType]; ok && len(p.TaskHistory) > 0 {
		if m.Accuracy < basePriorityScaled(0.8, task.Priority) {
			return false
		}
		if m.Consistency < basePriorityScaled(0.75, task.Priority) {
			return false
		}
	}
	return true
}

// score computes the six weighted sub-scores and combines them per the
// strategy's weights (spec §4.6).
func score(task types.VerificationTask, p types.WorkerProfile, w config.MatchingWeights) float64 {
	skillScore := float64(p.Skills[task.TaskType]) / 100
	reputationScore := p.ReputationScore / 100

	availabilityScore := 0.0
	if p.Status == types.WorkerAvailable {
		availabilityScore = 1.0
	}

	taskHistoryScore := float64(len(p.TaskHistory)) / 50
	if taskHistoryScore > 1 {
		taskHistoryScore = 1
	}

	performanceScore := 0.5
	if m, ok := p.Metrics[task.TaskType]; ok {
		performanceScore = 0.6*m.Accuracy + 0.4*m.Speed
	}

	// LoadBalance favors less-historied workers slightly, spreading work
	// across the pool rather than always routing to the busiest veteran.
	loadBalanceScore := 1 / (1 + float64(len(p.TaskHistory))/100)

	return w.Skill*skillScore +
		w.Reputation*reputationScore +
		w.Availability*availabilityScore +
		w.TaskHistory*taskHistoryScore +
		w.Performance*performanceScore +
		w.LoadBalance*loadBalanceScore
}

// FindBestMatches filters candidates to those eligible for task, scores
// them under the named strategy, and returns the top k ranked by score
// (ties broken by worker ID for determinism).
func FindBestMatches(task types.VerificationTask, candidates []types.WorkerProfile, strategy string, k int, cfg config.Config) ([]Match, error) {
	weights, ok := cfg.MatchingWeights[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown matching strategy %q", types.ErrValidation, strategy)
	}

	var matches []Match
	for _, p := range candidates {
		if !eligible(task, p) {
			continue
		}
		matches = append(matches, Match{WorkerID: p.WorkerID, Score: score(task, p, weights)})
	}

	if len(matches) < k {
		return nil, fmt.Errorf("%w: %d eligible, need %d", types.ErrInsufficientEligible, len(matches), k)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].WorkerID < matches[j].WorkerID
	})

	return matches[:k], nil
}
