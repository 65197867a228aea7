// Package fraud implements C3: multi-signal, weighted risk scoring of a
// worker submission across four independent detector families (spec §4.3).
package fraud

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dataparency-dev/verification-core/activity"
	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/types"
)

// Request is C3's input contract (spec §4.3).
type Request struct {
	WorkerID          string
	TaskID            string
	TaskType          types.TaskType
	Content           []byte
	Confidence        float64
	DeviceFingerprint *types.DeviceFingerprint
	IPAddress         string
	ProcessingTimeMs  int64
	Timezone          string
}

// SkillLookup is the narrow worker-profile dependency C3's content
// detector needs (expertise-inconsistency), kept as an interface so C3
// never imports the store package directly and stays testable without a
// live WorkerStore.
type SkillLookup interface {
	SkillFor(ctx context.Context, workerID string, taskType types.TaskType) (skill int, ok bool)
}

// Detector is C3. All four sub-detectors run concurrently; combining waits
// for all of them, and any individual sub-detector failure degrades that
// signal to 0 rather than failing the whole detection (spec §5), except
// the content detector's mandatory path when content is present.
type Detector struct {
	activities *activity.Index
	signals    events.FraudSignalProvider
	skills     SkillLookup
	bus        events.Bus
	metrics    events.Metrics
	cfg        config.Config
	log        zerolog.Logger

	resultCache *lru.LRU[string, types.FraudDetectionResult]

	contentMu      sync.Mutex
	contentHistory map[string][]string // workerID -> recent content shingle-set digests (sorted, NUL-joined shingles)
}

// New constructs a Detector.
func New(
	activities *activity.Index,
	signals events.FraudSignalProvider,
	skills SkillLookup,
	bus events.Bus,
	metrics events.Metrics,
	cfg config.Config,
	log zerolog.Logger,
) *Detector {
	return &Detector{
		activities:     activities,
		signals:        signals,
		skills:         skills,
		bus:            bus,
		metrics:        metrics,
		cfg:            cfg,
		log:            log.With().Str("component", "frauddetector").Logger(),
		resultCache:    lru.NewLRU[string, types.FraudDetectionResult](4096, nil, cfg.FraudCacheTTL),
		contentHistory: make(map[string][]string),
	}
}

func cacheKey(workerID, taskID string) string { return workerID + "|" + taskID }

// Peek returns a previously memoized detection result without running a
// fresh detection, used by C7's auction close to drop bids from workers
// already flagged for the auction's task (spec §4.7 "final fraud scan").
func (d *Detector) Peek(workerID, taskID string) (types.FraudDetectionResult, bool) {
	return d.resultCache.Get(cacheKey(workerID, taskID))
}

// InvalidateWorker evicts every memoized result for a worker. Called by
// ReputationService whenever a worker's reputation changes (spec §4.3:
// "the cache never survives a reputation change for the worker").
func (d *Detector) InvalidateWorker(workerID string) {
	// expirable.LRU has no per-prefix eviction; since results are keyed by
	// (workerId, taskId) and a worker rarely has more than a handful of
	// task IDs in flight, we scan and remove the keys we've seen.
	for _, k := range d.resultCache.Keys() {
		if len(k) > len(workerID) && k[:len(workerID)] == workerID && k[len(workerID)] == '|' {
			d.resultCache.Remove(k)
		}
	}
}

// Detect runs the four sub-detectors and aggregates them (spec §4.3).
func (d *Detector) Detect(ctx context.Context, req Request) (types.FraudDetectionResult, error) {
	ck := cacheKey(req.WorkerID, req.TaskID)
	if v, ok := d.resultCache.Get(ck); ok {
		return v, nil
	}

	recent, err := d.activities.RecentActivity(ctx, req.WorkerID, d.cfg.TimeWindow)
	if err != nil {
		d.log.Warn().Err(err).Str("worker_id", req.WorkerID).Msg("recent activity lookup failed, degrading to empty history")
		recent = nil
	}

	var timeScore, patternScore, networkScore, contentScore float64
	var reasons []string
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, reason := detectTime(recent, req.ProcessingTimeMs, d.cfg.MinProcessingTimeMs)
		mu.Lock()
		timeScore = s
		if reason != "" {
			reasons = append(reasons, reason)
		}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		s, reason := detectPattern(recent, d.cfg.MaxTasksPerHour)
		mu.Lock()
		patternScore = s
		if reason != "" {
			reasons = append(reasons, reason)
		}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		s, reason := d.detectNetwork(gctx, req)
		mu.Lock()
		networkScore = s
		if reason != "" {
			reasons = append(reasons, reason)
		}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		s, reason := d.detectContent(gctx, req)
		mu.Lock()
		contentScore = s
		if reason != "" {
			reasons = append(reasons, reason)
		}
		mu.Unlock()
		return nil
	})

	_ = g.Wait() // sub-detectors never return error; failures self-degrade to 0

	weights := d.cfg.FraudWeights.Normalized()
	risk := weights.Time*timeScore + weights.Pattern*patternScore + weights.Network*networkScore + weights.Content*contentScore

	result := types.FraudDetectionResult{
		RiskScore:  risk,
		FraudLevel: levelFor(risk),
		Confidence: confidenceFor(risk),
		Reasons:    reasons,
		Signals: types.SignalScores{
			Time:    timeScore,
			Pattern: patternScore,
			Network: networkScore,
			Content: contentScore,
		},
	}
	result.IsFraudulent = result.FraudLevel == types.FraudHigh || result.FraudLevel == types.FraudCritical
	result.Actions = actionsFor(result.FraudLevel)

	d.resultCache.Add(ck, result)

	d.emit(ctx, req, result)

	return result, nil
}

func levelFor(risk float64) types.FraudLevel {
	switch {
	case risk >= 0.9:
		return types.FraudCritical
	case risk >= 0.5:
		return types.FraudHigh
	case risk >= 0.3:
		return types.FraudMedium
	default:
		return types.FraudLow
	}
}

func confidenceFor(risk float64) float64 {
	d := risk - 0.5
	if d < 0 {
		d = -d
	}
	return d * 2
}

func actionsFor(level types.FraudLevel) []types.FraudAction {
	switch level {
	case types.FraudLow:
		return []types.FraudAction{types.ActionMonitor}
	case types.FraudMedium:
		return []types.FraudAction{types.ActionEnhancedMonitoring, types.ActionRequireAdditionalVerify}
	case types.FraudHigh:
		return []types.FraudAction{types.ActionIncreaseVerifyRequirements, types.ActionRestrictTaskAccess, types.ActionFlagForReview}
	case types.FraudCritical:
		return []types.FraudAction{types.ActionSuspendAccount, types.ActionInvalidateRecentSubmissions, types.ActionBlockPayments, types.ActionTriggerManualReview}
	default:
		return nil
	}
}

func (d *Detector) emit(ctx context.Context, req Request, result types.FraudDetectionResult) {
	if err := d.bus.Publish(ctx, events.TopicFraudDetected, struct {
		WorkerID string                     `json:"worker_id"`
		TaskID   string                     `json:"task_id"`
		Result   types.FraudDetectionResult `json:"result"`
	}{req.WorkerID, req.TaskID, result}); err != nil {
		d.log.Warn().Err(err).Msg("fraud.detected publish failed")
	}
	d.metrics.Observe("fraud_risk_score", result.RiskScore, map[string]string{
		"task_type":   string(req.TaskType),
		"fraud_level": string(result.FraudLevel),
	})
}

