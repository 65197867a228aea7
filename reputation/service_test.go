package reputation_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/reputation"
	"github.com/dataparency-dev/verification-core/types"
)

type fakeStore struct {
	profiles map[string]types.WorkerProfile
	invalidated []string
}

func newFakeStore(p types.WorkerProfile) *fakeStore {
	return &fakeStore{profiles: map[string]types.WorkerProfile{p.WorkerID: p}}
}

func (f *fakeStore) GetWorker(ctx context.Context, id string, allowStale bool) (*types.WorkerProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, types.ErrWorkerNotFound
	}
	cp := p
	return &cp, nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, profile types.WorkerProfile) error {
	f.profiles[profile.WorkerID] = profile
	return nil
}

func (f *fakeStore) InvalidateCache(id string) {
	f.invalidated = append(f.invalidated, id)
}

type fakeFraud struct{ invalidated []string }

func (f *fakeFraud) InvalidateWorker(workerID string) { f.invalidated = append(f.invalidated, workerID) }

func TestApplyVerificationUpdatesSkillAndReputation(t *testing.T) {
	store := newFakeStore(types.WorkerProfile{WorkerID: "w1", ReputationScore: 50})
	fraud := &fakeFraud{}
	svc := reputation.New(store, fraud, config.Default(), zerolog.Nop())

	qm := types.QualityMetrics{WorkerID: "w1", Accuracy: 0.9, ProcessingTimeMs: 5000, ConsistencyScore: 0.8}
	outcome := types.TaskOutcome{TaskID: "t1", TaskType: types.TaskTypeTextClassification, Accuracy: 0.9, CompletedAt: time.Now()}

	err := svc.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, outcome)
	require.NoError(t, err)

	p := store.profiles["w1"]
	assert.Greater(t, p.ReputationScore, 50.0, "a high-accuracy verification should raise reputation")
	assert.Greater(t, p.Skills[types.TaskTypeTextClassification], 0)
	assert.Greater(t, p.ReputationPoints, 0)
	assert.Len(t, p.TaskHistory, 1)
	assert.Contains(t, store.invalidated, "w1")
	assert.Contains(t, fraud.invalidated, "w1", "a reputation change must invalidate the worker's memoized fraud results")
}

func TestApplyVerificationReputationPointsNeverDecrease(t *testing.T) {
	store := newFakeStore(types.WorkerProfile{WorkerID: "w1", ReputationPoints: 40})
	svc := reputation.New(store, &fakeFraud{}, config.Default(), zerolog.Nop())

	// Even a poor verification earns at least one point (spec's "monotonic,
	// never-decreasing" invariant).
	qm := types.QualityMetrics{WorkerID: "w1", Accuracy: 0.0, ProcessingTimeMs: 999999, ConsistencyScore: 0.0}
	err := svc.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, types.TaskOutcome{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, store.profiles["w1"].ReputationPoints, 40)
}

func TestApplyVerificationLevelFollowsPoints(t *testing.T) {
	store := newFakeStore(types.WorkerProfile{WorkerID: "w1", ReputationPoints: 99})
	svc := reputation.New(store, &fakeFraud{}, config.Default(), zerolog.Nop())

	qm := types.QualityMetrics{WorkerID: "w1", Accuracy: 1.0, ProcessingTimeMs: 1000, ConsistencyScore: 1.0}
	err := svc.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, types.TaskOutcome{})
	require.NoError(t, err)

	p := store.profiles["w1"]
	assert.Equal(t, types.LevelForPoints(p.ReputationPoints), p.Level)
}

func TestApplyVerificationReputationFactorMatchesSpecFormula(t *testing.T) {
	store := newFakeStore(types.WorkerProfile{WorkerID: "w1", ReputationScore: 10})
	svc := reputation.New(store, &fakeFraud{}, config.Default(), zerolog.Nop())

	// normalizedSpeed(5000ms) = min(15000/5000, 1) = 1; TextClassification's
	// complexityWeight = 0.3.
	qm := types.QualityMetrics{WorkerID: "w1", Accuracy: 0.9, ProcessingTimeMs: 5000, ConsistencyScore: 0.8}
	err := svc.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, types.TaskOutcome{})
	require.NoError(t, err)

	// 100*(0.1*1 + 0.3*0.9 + 0.2*0.8 + 0.2*1 + 0.2*0.3) = 79
	assert.InDelta(t, 79.0, store.profiles["w1"].ReputationScore, 0.0001)
}

func TestApplyVerificationSkillLearningRateDecaysWithCurrentSkill(t *testing.T) {
	lowSkill := newFakeStore(types.WorkerProfile{WorkerID: "w1", Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 10}})
	highSkill := newFakeStore(types.WorkerProfile{WorkerID: "w1", Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 90}})

	svcLow := reputation.New(lowSkill, &fakeFraud{}, config.Default(), zerolog.Nop())
	svcHigh := reputation.New(highSkill, &fakeFraud{}, config.Default(), zerolog.Nop())

	qm := types.QualityMetrics{WorkerID: "w1", Accuracy: 1.0, ProcessingTimeMs: 1000, ConsistencyScore: 1.0}
	require.NoError(t, svcLow.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, types.TaskOutcome{}))
	require.NoError(t, svcHigh.ApplyVerification(context.Background(), "w1", types.TaskTypeTextClassification, qm, types.TaskOutcome{}))

	lowDelta := lowSkill.profiles["w1"].Skills[types.TaskTypeTextClassification] - 10
	highDelta := highSkill.profiles["w1"].Skills[types.TaskTypeTextClassification] - 90
	assert.Greater(t, lowDelta, highDelta, "a newcomer's skill must move more per task than a veteran's")
}

func TestApplyVerificationUnknownWorkerErrors(t *testing.T) {
	store := newFakeStore(types.WorkerProfile{WorkerID: "w1"})
	svc := reputation.New(store, &fakeFraud{}, config.Default(), zerolog.Nop())

	err := svc.ApplyVerification(context.Background(), "ghost", types.TaskTypeTextClassification, types.QualityMetrics{}, types.TaskOutcome{})
	require.Error(t, err)
}
