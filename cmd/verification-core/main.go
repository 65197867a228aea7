// Example: Full Verification Core Lifecycle
//
// Demonstrates the end-to-end flow: a worker pool is seeded, a task is
// distributed, submissions are screened for fraud and fed through
// consensus, reputations update, and a later task is carried through an
// auction instead of a direct assignment.
//
// In production, events.NatsBus / events.NatsQueue / store.NatsKV replace
// the in-memory stand-ins used here — swap points are called out below.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dataparency-dev/verification-core/activity"
	"github.com/dataparency-dev/verification-core/auction"
	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/consensus"
	"github.com/dataparency-dev/verification-core/distribution"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/fraud"
	"github.com/dataparency-dev/verification-core/orchestrator"
	"github.com/dataparency-dev/verification-core/reputation"
	"github.com/dataparency-dev/verification-core/store"
	"github.com/dataparency-dev/verification-core/types"
)

// skillLookup adapts store.WorkerStore to fraud.SkillLookup.
type skillLookup struct{ workers *store.WorkerStore }

func (s skillLookup) SkillFor(ctx context.Context, workerID string, taskType types.TaskType) (int, bool) {
	p, err := s.workers.GetWorker(ctx, workerID, true)
	if err != nil {
		return 0, false
	}
	v, ok := p.Skills[taskType]
	return v, ok
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	ctx := context.Background()
	cfg := config.Default()

	// ═══════════════════════════════════════════════════════════════
	// STEP 1: Wire the core
	// Swap store.NewMemKV()/events.NewMemoryBus() for store.NatsKV /
	// events.NatsBus+NatsQueue in production.
	// ═══════════════════════════════════════════════════════════════

	kv := store.NewMemKV()
	workers := store.New(kv, cfg.ProfileCacheTTL, log)
	activities := activity.New(kv, 4096, cfg.ActivityCacheTTL, log)
	bus := events.NewMemoryBus()
	metrics := events.NoopMetrics{}
	signals := events.NewStubFraudSignalProvider()
	notifier := events.NewMemoryNotifier()

	detector := fraud.New(activities, signals, skillLookup{workers}, bus, metrics, cfg, log)
	consensusEngine := consensus.New(log)
	reputationSvc := reputation.New(workers, detector, cfg, log)
	auctions := auction.New(bus, detector, cfg, log)
	distributor := distribution.New(distribution.DefaultMatcher, auctions, notifier, cfg, log)
	orch := orchestrator.New(consensusEngine, reputationSvc, detector, distributor, bus, nil, cfg, log)

	// ═══════════════════════════════════════════════════════════════
	// STEP 2: Seed a worker pool
	// ═══════════════════════════════════════════════════════════════

	fmt.Println("=== Registering Workers ===")
	seedWorkers := []types.WorkerProfile{
		{WorkerID: "worker-ada", Status: types.WorkerAvailable, Level: types.LevelAdvanced, ReputationScore: 82,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 88}},
		{WorkerID: "worker-grace", Status: types.WorkerAvailable, Level: types.LevelIntermediate, ReputationScore: 70,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 74}},
		{WorkerID: "worker-linus", Status: types.WorkerAvailable, Level: types.LevelExpert, ReputationScore: 91,
			Skills: map[types.TaskType]int{types.TaskTypeTextClassification: 95}},
	}
	var candidates []types.WorkerProfile
	for _, w := range seedWorkers {
		if err := workers.CreateWorker(ctx, w); err != nil {
			log.Warn().Err(err).Str("worker_id", w.WorkerID).Msg("register worker")
			continue
		}
		p, _ := workers.GetWorker(ctx, w.WorkerID, false)
		candidates = append(candidates, *p)
		fmt.Printf("  registered %s (level=%s reputation=%.0f)\n", w.WorkerID, w.Level, w.ReputationScore)
	}

	// ═══════════════════════════════════════════════════════════════
	// STEP 3: Distribute a text-classification task (TARGETED)
	// ═══════════════════════════════════════════════════════════════

	task := types.VerificationTask{
		TaskID:                "task-moderate-001",
		TaskType:               types.TaskTypeTextClassification,
		Priority:               types.PriorityMedium,
		ConsensusStrategy:      types.ConsensusWeighted,
		Requirements:           types.TaskRequirements{MinSubmissions: 2, WorkerLevel: types.LevelIntermediate, MinReputation: 50},
		Status:                 types.TaskPending,
		RequiredVerifications:  2,
		CreatedAt:              time.Now(),
		ExpiresAt:              time.Now().Add(30 * time.Minute),
	}

	distResult, err := orch.OnTaskCreated(ctx, task, candidates, distribution.StrategyTargeted)
	if err != nil {
		log.Fatal().Err(err).Msg("distribute task")
	}
	fmt.Printf("\n=== Task %s assigned to %d worker(s) ===\n", task.TaskID, len(distResult.Assignments))
	for _, a := range distResult.Assignments {
		fmt.Printf("  %s expires at %s\n", a.WorkerID, a.ExpiresAt.Format(time.Kitchen))
	}

	// ═══════════════════════════════════════════════════════════════
	// STEP 4: Submissions run through fraud screening and consensus
	// ═══════════════════════════════════════════════════════════════

	fmt.Println("\n=== Submissions ===")
	submissionPayload := func(label string, conf float64) []byte {
		b, _ := json.Marshal(consensus.ClassificationResult{Label: label, Confidence: conf})
		return b
	}

	subs := []types.WorkerSubmission{
		{TaskID: task.TaskID, WorkerID: "worker-ada", Result: submissionPayload("spam", 0.8),
			StartedAt: time.Now().Add(-20 * time.Second), CompletedAt: time.Now()},
		{TaskID: task.TaskID, WorkerID: "worker-linus", Result: submissionPayload("spam", 0.95),
			StartedAt: time.Now().Add(-18 * time.Second), CompletedAt: time.Now()},
	}

	var result *types.VerificationResult
	for _, sub := range subs {
		// Echo the access token minted for this worker's assignment.
		if tok, ok := orch.AccessToken(task.TaskID, sub.WorkerID); ok {
			sub.AccessToken = tok.TokenID
		}
		fr := fraud.Request{
			WorkerID: sub.WorkerID, TaskID: sub.TaskID, TaskType: task.TaskType,
			Content: sub.Result, Confidence: sub.Confidence, ProcessingTimeMs: sub.ProcessingTimeMs(),
		}
		r, err := orch.OnSubmission(ctx, task.TaskID, sub, fr)
		if err != nil {
			log.Warn().Err(err).Str("worker_id", sub.WorkerID).Msg("submission rejected")
			continue
		}
		if r != nil {
			result = r
		}
	}

	if result != nil {
		fmt.Printf("  consensus reached: status=%s confidence=%s value=%s\n", result.Status, result.ConfidenceLevel, string(result.ConsensusValue))
	}

	// ═══════════════════════════════════════════════════════════════
	// STEP 5: A high-value task goes to auction instead
	// ═══════════════════════════════════════════════════════════════

	fmt.Println("\n=== Auction Path ===")
	auctionTask := task
	auctionTask.TaskID = "task-moderate-002"
	auctionResult, err := orch.OnTaskCreated(ctx, auctionTask, candidates, distribution.StrategyAuction)
	if err != nil {
		log.Warn().Err(err).Msg("open auction")
	} else if auctionResult.Auction != nil {
		fmt.Printf("  auction %s opened, window ends %s\n", auctionResult.Auction.AuctionID, auctionResult.Auction.EndTime.Format(time.Kitchen))

		for i, workerID := range []string{"worker-ada", "worker-linus"} {
			amount := decimal.NewFromFloat(float64(2+i) + 0.50)
			if err := auctions.PlaceBid(ctx, auctionResult.Auction.AuctionID, workerID, amount); err != nil {
				log.Warn().Err(err).Str("worker_id", workerID).Msg("place bid")
			}
		}

		closed, err := auctions.Close(ctx, auctionResult.Auction.AuctionID)
		if err != nil {
			log.Warn().Err(err).Msg("close auction")
		} else {
			fmt.Printf("  auction closed, winners: %v\n", closed.Winners)
		}
	}

	// ═══════════════════════════════════════════════════════════════
	// STEP 6: Inspect the updated reputation of a winner
	// ═══════════════════════════════════════════════════════════════

	if p, err := workers.GetWorker(ctx, "worker-linus", false); err == nil {
		fmt.Printf("\n=== worker-linus reputation: %.2f (points=%d, level=%s) ===\n", p.ReputationScore, p.ReputationPoints, p.Level)
	}

	fmt.Printf("\ntoken demo: %s\n", uuid.NewString())
	fmt.Println("=== Verification Lifecycle Complete ===")
}
