package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/distribution"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/fraud"
	"github.com/dataparency-dev/verification-core/orchestrator"
	"github.com/dataparency-dev/verification-core/types"
)

type fakeConsensus struct {
	result types.VerificationResult
	err    error
	calls  int
}

func (f *fakeConsensus) Process(task types.VerificationTask, submissions []types.WorkerSubmission) (types.VerificationResult, error) {
	f.calls++
	if f.err != nil {
		return types.VerificationResult{}, f.err
	}
	return f.result, nil
}

type fakeReputation struct {
	applied []string
}

func (f *fakeReputation) ApplyVerification(ctx context.Context, workerID string, taskType types.TaskType, qm types.QualityMetrics, outcome types.TaskOutcome) error {
	f.applied = append(f.applied, workerID)
	return nil
}

type fakeFraud struct {
	fraudulent map[string]bool
}

func (f *fakeFraud) Detect(ctx context.Context, req fraud.Request) (types.FraudDetectionResult, error) {
	if f.fraudulent[req.WorkerID] {
		return types.FraudDetectionResult{IsFraudulent: true, Reasons: []string{"flagged"}}, nil
	}
	return types.FraudDetectionResult{}, nil
}

type fakeDistributor struct {
	result     distribution.Result
	candidates []types.WorkerProfile
}

func (f *fakeDistributor) Distribute(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile, strategy distribution.Strategy) (distribution.Result, error) {
	f.candidates = candidates
	return f.result, nil
}

func newOrchestrator(consensus *fakeConsensus, rep *fakeReputation, fr *fakeFraud, dist *fakeDistributor, cfg config.Config) *orchestrator.Orchestrator {
	bus := events.NewMemoryBus()
	return orchestrator.New(consensus, rep, fr, dist, bus, nil, cfg, zerolog.Nop())
}

func sampleTask(required int) types.VerificationTask {
	return types.VerificationTask{
		TaskID:                "t1",
		TaskType:              types.TaskTypeTextClassification,
		RequiredVerifications: required,
		Requirements:          types.TaskRequirements{MinSubmissions: required},
		CreatedAt:             time.Now(),
	}
}

func TestOnSubmissionReturnsNilUntilThresholdReached(t *testing.T) {
	cfg := config.Default()
	consensus := &fakeConsensus{result: types.VerificationResult{Status: types.VerificationCompleted}}
	rep := &fakeReputation{}
	o := newOrchestrator(consensus, rep, &fakeFraud{}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(2), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	sub1 := types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}
	result, err := o.OnSubmission(ctx, "t1", sub1, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.NoError(t, err)
	assert.Nil(t, result, "consensus must not run before RequiredVerifications is met")
	assert.Equal(t, 0, consensus.calls)
}

func TestOnSubmissionFinalizesAtThreshold(t *testing.T) {
	cfg := config.Default()
	consensus := &fakeConsensus{result: types.VerificationResult{Status: types.VerificationCompleted, Metrics: []types.QualityMetrics{
		{WorkerID: "w1", Accuracy: 0.9}, {WorkerID: "w2", Accuracy: 0.8},
	}}}
	rep := &fakeReputation{}
	o := newOrchestrator(consensus, rep, &fakeFraud{}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(2), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.NoError(t, err)

	result, err := o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w2", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w2", TaskID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.VerificationCompleted, result.Status)
	assert.Equal(t, 1, consensus.calls)
	assert.ElementsMatch(t, []string{"w1", "w2"}, rep.applied, "reputation must be applied for every contributing worker")
}

func TestOnSubmissionRejectsFraudulentSubmission(t *testing.T) {
	cfg := config.Default()
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{fraudulent: map[string]bool{"w1": true}}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(1), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSuspiciousActivity)
}

func TestOnSubmissionUnknownTaskErrors(t *testing.T) {
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{}, &fakeDistributor{}, config.Default())
	_, err := o.OnSubmission(context.Background(), "ghost", types.WorkerSubmission{}, fraud.Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTaskNotFound)
}

func TestRepeatedFraudFlagsSuspendWorkerFromFurtherSubmissions(t *testing.T) {
	cfg := config.Default()
	cfg.CircuitBreakerFailureThreshold = 2
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{fraudulent: map[string]bool{"w1": true}}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(5), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrSuspiciousActivity)
	}

	// The breaker should now be open, short-circuiting before the fraud
	// detector even runs again.
	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrWorkerSuspended)
}

func TestOnSubmissionRejectsMissingOrMismatchedAccessToken(t *testing.T) {
	cfg := config.Default()
	dist := &fakeDistributor{result: distribution.Result{Assignments: []types.TaskAssignment{
		{TaskID: "t1", WorkerID: "w1", ExpiresAt: time.Now().Add(time.Hour)},
	}}}
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{}, dist, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(1), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	tok, ok := o.AccessToken("t1", "w1")
	require.True(t, ok, "a token must be minted for an assigned worker")

	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidAccessToken)

	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now(), AccessToken: "wrong-token"}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidAccessToken)

	result, err := o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now(), AccessToken: tok.TokenID}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestOnTaskCreatedCompressesContentAboveThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.LargeContentThreshold = 16
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	task := sampleTask(1)
	task.Content = []byte("this payload is longer than the configured threshold")

	_, err := o.OnTaskCreated(ctx, task, nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	compressed, ok := o.TaskContentCompressed("t1")
	require.True(t, ok)
	assert.True(t, compressed, "content above the threshold must be compressed in the task table")
}

func TestOnTaskCreatedLeavesSmallContentUncompressed(t *testing.T) {
	cfg := config.Default()
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{}, &fakeDistributor{}, cfg)
	ctx := context.Background()

	task := sampleTask(1)
	task.Content = []byte("small")

	_, err := o.OnTaskCreated(ctx, task, nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	compressed, ok := o.TaskContentCompressed("t1")
	require.True(t, ok)
	assert.False(t, compressed)
}

func TestHandleStallExcludesWorkersWhoAlreadySubmitted(t *testing.T) {
	cfg := config.Default()
	dist := &fakeDistributor{result: distribution.Result{Assignments: []types.TaskAssignment{{WorkerID: "w2"}}}}
	o := newOrchestrator(&fakeConsensus{}, &fakeReputation{}, &fakeFraud{}, dist, cfg)
	ctx := context.Background()

	_, err := o.OnTaskCreated(ctx, sampleTask(2), nil, distribution.StrategyTargeted)
	require.NoError(t, err)

	_, err = o.OnSubmission(ctx, "t1", types.WorkerSubmission{TaskID: "t1", WorkerID: "w1", CompletedAt: time.Now()}, fraud.Request{WorkerID: "w1", TaskID: "t1"})
	require.NoError(t, err)

	candidates := []types.WorkerProfile{{WorkerID: "w1"}, {WorkerID: "w2"}}
	result, err := o.HandleStall(ctx, "t1", candidates)
	require.NoError(t, err)
	assert.Len(t, result.Assignments, 1)
	require.Len(t, dist.candidates, 1, "w1 already submitted and must not be offered the task again")
	assert.Equal(t, "w2", dist.candidates[0].WorkerID)
}
