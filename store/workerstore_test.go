package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/store"
	"github.com/dataparency-dev/verification-core/types"
)

func newStore() *store.WorkerStore {
	return store.New(store.NewMemKV(), 10*time.Minute, zerolog.Nop())
}

func TestCreateAndGetWorker(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	err := s.CreateWorker(ctx, types.WorkerProfile{WorkerID: "w1"})
	require.NoError(t, err)

	p, err := s.GetWorker(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, "w1", p.WorkerID)
	assert.Equal(t, types.WorkerAvailable, p.Status, "CreateWorker defaults status to AVAILABLE")
	assert.NotNil(t, p.Skills)
}

func TestGetWorkerNotFound(t *testing.T) {
	s := newStore()
	_, err := s.GetWorker(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrWorkerNotFound)
}

func TestUpdateStatusValidTransitions(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.CreateWorker(ctx, types.WorkerProfile{WorkerID: "w1"}))

	require.NoError(t, s.UpdateStatus(ctx, "w1", types.WorkerBusy, ""))
	require.NoError(t, s.UpdateStatus(ctx, "w1", types.WorkerAvailable, ""))
	require.NoError(t, s.UpdateStatus(ctx, "w1", types.WorkerSuspended, "fraud review"))

	p, err := s.GetWorker(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerSuspended, p.Status)
	assert.Equal(t, "fraud review", p.SuspensionReason)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.CreateWorker(ctx, types.WorkerProfile{WorkerID: "w1", Status: types.WorkerSuspended}))

	err := s.UpdateStatus(ctx, "w1", types.WorkerBusy, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation, "SUSPENDED can only go back to AVAILABLE")
}

func TestUpdateSkillsClamps(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.CreateWorker(ctx, types.WorkerProfile{WorkerID: "w1"}))

	err := s.UpdateSkills(ctx, "w1", map[types.TaskType]int{
		types.TaskTypeTextClassification: 150,
		types.TaskTypeSentimentAnalysis:  -20,
	})
	require.NoError(t, err)

	p, err := s.GetWorker(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Skills[types.TaskTypeTextClassification])
	assert.Equal(t, 0, p.Skills[types.TaskTypeSentimentAnalysis])
}

func TestWriteInvalidatesCache(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.CreateWorker(ctx, types.WorkerProfile{WorkerID: "w1", ReputationScore: 10}))

	// prime the cache
	_, err := s.GetWorker(ctx, "w1", false)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "w1", types.WorkerBusy, ""))

	p, err := s.GetWorker(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerBusy, p.Status, "cache must reflect the write, not a stale entry")
}
