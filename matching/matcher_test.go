package matching_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/matching"
	"github.com/dataparency-dev/verification-core/types"
)

func baseTask() types.VerificationTask {
	return types.VerificationTask{
		TaskID:   "t1",
		TaskType: types.TaskTypeTextClassification,
		Priority: types.PriorityMedium,
		Requirements: types.TaskRequirements{
			WorkerLevel:   types.LevelIntermediate,
			MinReputation: 50,
		},
	}
}

func TestFindBestMatchesFiltersIneligibleWorkers(t *testing.T) {
	cfg := config.Default()
	task := baseTask()

	candidates := []types.WorkerProfile{
		{WorkerID: "eligible", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
		{WorkerID: "busy", Status: types.WorkerBusy, ReputationScore: 90,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
		{WorkerID: "low-skill", Status: types.WorkerAvailable, ReputationScore: 90,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 1}},
		{WorkerID: "low-reputation", Status: types.WorkerAvailable, ReputationScore: 10,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
	}

	matches, err := matching.FindBestMatches(task, candidates, "BALANCED", 1, cfg)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "eligible", matches[0].WorkerID)
}

func TestFindBestMatchesInsufficientEligibleErrors(t *testing.T) {
	cfg := config.Default()
	task := baseTask()
	candidates := []types.WorkerProfile{
		{WorkerID: "w1", Status: types.WorkerBusy},
	}

	_, err := matching.FindBestMatches(task, candidates, "BALANCED", 1, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientEligible)
}

func TestFindBestMatchesUnknownStrategyErrors(t *testing.T) {
	cfg := config.Default()
	_, err := matching.FindBestMatches(baseTask(), nil, "NONSENSE", 1, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestFindBestMatchesRanksHigherSkillFirst(t *testing.T) {
	cfg := config.Default()
	task := baseTask()

	candidates := []types.WorkerProfile{
		{WorkerID: "low", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 50}},
		{WorkerID: "high", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 95}},
	}

	matches, err := matching.FindBestMatches(task, candidates, "SKILL_FOCUSED", 2, cfg)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "high", matches[0].WorkerID, "higher skill must rank first under SKILL_FOCUSED")
}

func TestFindBestMatchesTieBrokenByWorkerID(t *testing.T) {
	cfg := config.Default()
	task := baseTask()
	candidates := []types.WorkerProfile{
		{WorkerID: "zzz", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
		{WorkerID: "aaa", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
	}

	matches, err := matching.FindBestMatches(task, candidates, "BALANCED", 2, cfg)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "aaa", matches[0].WorkerID)
}

func TestHighPriorityDemandsAboveBaseReputationFloor(t *testing.T) {
	cfg := config.Default()
	task := baseTask()
	task.Priority = types.PriorityHigh
	task.Requirements.MinReputation = 50

	candidates := []types.WorkerProfile{
		// 55 clears MEDIUM's 1.0x floor (50) but not HIGH's 1.2x floor (60).
		{WorkerID: "w1", Status: types.WorkerAvailable, ReputationScore: 55,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
	}

	_, err := matching.FindBestMatches(task, candidates, "BALANCED", 1, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientEligible)
}

func TestLowConsistencyExcludesWorkerWithHistory(t *testing.T) {
	cfg := config.Default()
	task := baseTask()

	candidates := []types.WorkerProfile{
		{WorkerID: "w1", Status: types.WorkerAvailable, ReputationScore: 80,
			Skills:      map[types.TaskType]int{types.TaskTypeTextClassification: 90},
			TaskHistory: []types.TaskOutcome{{TaskID: "t0"}},
			Metrics: map[types.TaskType]types.TaskMetrics{
				types.TaskTypeTextClassification: {Accuracy: 0.95, Consistency: 0.5},
			}},
	}

	_, err := matching.FindBestMatches(task, candidates, "BALANCED", 1, cfg)
	require.Error(t, err, "consistency 0.5 must fail MEDIUM's basePriorityScaled(0.75) == 0.75 floor")
	assert.ErrorIs(t, err, types.ErrInsufficientEligible)
}

func TestLowPriorityToleratesLowerReputationFloor(t *testing.T) {
	cfg := config.Default()
	task := baseTask()
	task.Priority = types.PriorityLow
	task.Requirements.MinReputation = 50

	candidates := []types.WorkerProfile{
		// 42 clears LOW's 0.8x floor (40) but not MEDIUM's full 50.
		{WorkerID: "w1", Status: types.WorkerAvailable, ReputationScore: 42,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}},
	}

	matches, err := matching.FindBestMatches(task, candidates, "BALANCED", 1, cfg)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
