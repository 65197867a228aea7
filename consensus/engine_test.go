package consensus_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/consensus"
	"github.com/dataparency-dev/verification-core/types"
)

func classificationSubmission(taskID, workerID, label string, confidence float64, start time.Time) types.WorkerSubmission {
	raw, _ := json.Marshal(consensus.ClassificationResult{Label: label, Confidence: confidence})
	return types.WorkerSubmission{
		TaskID:      taskID,
		WorkerID:    workerID,
		Result:      raw,
		Confidence:  confidence,
		StartedAt:   start,
		CompletedAt: start.Add(5 * time.Second),
	}
}

func baseTask(strategy types.ConsensusStrategy, minSub int) types.VerificationTask {
	return types.VerificationTask{
		TaskID:                 "task-1",
		TaskType:               types.TaskTypeTextClassification,
		ConsensusStrategy:      strategy,
		Requirements:           types.TaskRequirements{MinSubmissions: minSub},
		RequiredVerifications:  minSub,
		CreatedAt:              time.Now(),
	}
}

func TestEngineMajorityConsensus(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	now := time.Now()
	task := baseTask(types.ConsensusMajority, 3)

	subs := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w2", "spam", 0.8, now),
		classificationSubmission(task.TaskID, "w3", "ham", 0.7, now),
	}

	result, err := e.Process(task, subs)
	require.NoError(t, err)
	// 2 of 3 agree with the plurality winner: avgAccuracy=2/3, baselineConsistency=0.8,
	// agreement=2/3 -> confidenceScore = 0.4*2/3 + 0.3*0.8 + 0.3*2/3 ~= 0.707, which
	// lands in [0.7,0.9) under the spec's MEDIUM band, not HIGH.
	assert.Equal(t, types.VerificationNeedsReview, result.Status)
	assert.Equal(t, types.ConfidenceMedium, result.ConfidenceLevel)
	assert.Contains(t, string(result.ConsensusValue), "spam")
	assert.Len(t, result.Metrics, 3)
}

func TestEngineMajorityConsensusUnanimousAgreementIsHighConfidence(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	now := time.Now()
	task := baseTask(types.ConsensusMajority, 3)

	subs := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w2", "spam", 0.8, now),
		classificationSubmission(task.TaskID, "w3", "spam", 0.7, now),
	}

	result, err := e.Process(task, subs)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationCompleted, result.Status)
	assert.Equal(t, types.ConfidenceHigh, result.ConfidenceLevel)
}

func TestEngineInsufficientSubmissionsErrors(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	task := baseTask(types.ConsensusMajority, 3)
	subs := []types.WorkerSubmission{classificationSubmission(task.TaskID, "w1", "spam", 0.9, time.Now())}

	_, err := e.Process(task, subs)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientSubmissions)
}

func TestEngineWeightedConsensusFavorsFasterAccurateWorkers(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	now := time.Now()
	task := baseTask(types.ConsensusWeighted, 3)

	subs := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.95, now),
		classificationSubmission(task.TaskID, "w2", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w3", "ham", 0.5, now),
	}

	result, err := e.Process(task, subs)
	require.NoError(t, err)
	// Same 2-of-3 agreement shape as the MEDIUM-confidence majority case above;
	// WEIGHTED only changes which submissions drive the consensus value, not
	// the confidence formula.
	assert.Equal(t, types.VerificationNeedsReview, result.Status)
	for _, m := range result.Metrics {
		assert.Greater(t, m.Weight, 0.0, "WEIGHTED strategy must populate per-worker Weight")
	}
	assert.Greater(t, result.Metrics[0].Weight, result.Metrics[2].Weight, "the accurate w1 must outweigh the dissenting w3")
}

func TestEngineUnanimousRequiresByteIdenticalSubmissions(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	now := time.Now()
	task := baseTask(types.ConsensusUnanimous, 2)

	agree := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w2", "spam", 0.9, now),
	}
	result, err := e.Process(task, agree)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationCompleted, result.Status)

	disagree := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w2", "ham", 0.9, now),
	}
	_, err = e.Process(task, disagree)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnanimousNotReached)
}

func TestEngineExcludesMalformedSubmissions(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	now := time.Now()
	task := baseTask(types.ConsensusMajority, 2)

	subs := []types.WorkerSubmission{
		classificationSubmission(task.TaskID, "w1", "spam", 0.9, now),
		classificationSubmission(task.TaskID, "w2", "spam", 0.9, now),
		{TaskID: task.TaskID, WorkerID: "w3", Result: []byte(`not json`), StartedAt: now, CompletedAt: now.Add(time.Second)},
	}

	result, err := e.Process(task, subs)
	require.NoError(t, err)
	assert.Len(t, result.Metrics, 2, "the malformed submission must be excluded, not counted")
}

func TestEngineUnknownTaskTypeErrors(t *testing.T) {
	e := consensus.New(zerolog.Nop())
	task := baseTask(types.ConsensusMajority, 1)
	task.TaskType = types.TaskType("unregistered")

	_, err := e.Process(task, []types.WorkerSubmission{classificationSubmission(task.TaskID, "w1", "spam", 0.9, time.Now())})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidSubmission)
}
