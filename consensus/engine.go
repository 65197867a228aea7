package consensus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/types"
)

// baselineConsistency is used in place of a true historical-variance
// figure, which belongs to the reputation layer (C5) once a worker has
// accumulated task history; consensus only ever sees one task at a time.
const baselineConsistency = 0.8

// Engine is C4: validates, decodes, and aggregates a task's submissions
// into a single VerificationResult (spec §4.4).
type Engine struct {
	log zerolog.Logger
}

// New constructs an Engine.
func New(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "consensusengine").Logger()}
}

// Process implements the spec §4.4 pipeline: validate submission count and
// format, compute per-worker quality metrics, aggregate per the task's
// ConsensusStrategy, then derive a confidence level and overall status.
func (e *Engine) Process(task types.VerificationTask, submissions []types.WorkerSubmission) (types.VerificationResult, error) {
	if len(submissions) < task.Requirements.MinSubmissions {
		return types.VerificationResult{}, fmt.Errorf("%w: have %d, need %d", types.ErrInsufficientSubmissions, len(submissions), task.Requirements.MinSubmissions)
	}

	handler, ok := HandlerFor(task.TaskType)
	if !ok {
		return types.VerificationResult{}, fmt.Errorf("%w: no consensus handler for task type %q", types.ErrInvalidSubmission, task.TaskType)
	}

	var valid []decodedSubmission
	for _, sub := range submissions {
		if err := handler.ValidateFormat(sub.Result); err != nil {
			e.log.Warn().Err(err).Str("worker_id", sub.WorkerID).Str("task_id", task.TaskID).Msg("submission failed format validation, excluded")
			continue
		}
		v, err := handler.Decode(sub.Result)
		if err != nil {
			e.log.Warn().Err(err).Str("worker_id", sub.WorkerID).Str("task_id", task.TaskID).Msg("submission failed decode, excluded")
			continue
		}
		valid = append(valid, decodedSubmission{sub: sub, value: v})
	}

	if len(valid) < task.Requirements.MinSubmissions {
		return types.VerificationResult{}, fmt.Errorf("%w: %d valid of %d required", types.ErrInsufficientSubmissions, len(valid), task.Requirements.MinSubmissions)
	}

	if task.ConsensusStrategy == types.ConsensusUnanimous {
		return e.processUnanimous(task, handler, valid)
	}

	// Provisional pass: equal weight. It yields each submission's accuracy
	// (spec §4.4 step 2), which feeds the WEIGHTED-strategy weight formula,
	// and it is the final consensus value for MAJORITY.
	provisional := make([]WeightedValue, 0, len(valid))
	for _, d := range valid {
		provisional = append(provisional, WeightedValue{Value: d.value, Weight: 1, Timestamp: d.sub.CompletedAt})
	}
	provisionalConsensus, err := handler.Aggregate(provisional)
	if err != nil {
		return types.VerificationResult{}, err
	}

	var avgProcessingMs float64
	for _, d := range valid {
		avgProcessingMs += float64(d.sub.ProcessingTimeMs())
	}
	avgProcessingMs /= float64(len(valid))
	if avgProcessingMs <= 0 {
		avgProcessingMs = 1
	}

	metrics := make([]types.QualityMetrics, 0, len(valid))
	weighted := make([]WeightedValue, 0, len(valid))
	for _, d := range valid {
		accuracy := handler.AccuracyOf(d.value, provisionalConsensus)
		processingMs := d.sub.ProcessingTimeMs()

		normalizedTimeScore := avgProcessingMs / float64(maxInt64(processingMs, 1))
		if normalizedTimeScore > 1 {
			normalizedTimeScore = 1
		}

		weight := 0.5*accuracy + 0.3*baselineConsistency + 0.2*normalizedTimeScore

		metrics = append(metrics, types.QualityMetrics{
			WorkerID:         d.sub.WorkerID,
			Accuracy:         accuracy,
			ProcessingTimeMs: processingMs,
			ConsistencyScore: baselineConsistency,
		})
		weighted = append(weighted, WeightedValue{Value: d.value, Weight: weight, Timestamp: d.sub.CompletedAt})
	}

	consensusValue := provisionalConsensus
	if task.ConsensusStrategy == types.ConsensusWeighted {
		consensusValue, err = handler.Aggregate(weighted)
		if err != nil {
			return types.VerificationResult{}, err
		}
		for i := range metrics {
			metrics[i].Accuracy = handler.AccuracyOf(valid[i].value, consensusValue)
			metrics[i].Weight = weighted[i].Weight
		}
	}

	return e.finalize(task, handler, consensusValue, metrics, nil)
}

// decodedSubmission pairs a raw submission with its type-handler-decoded
// value.
type decodedSubmission struct {
	sub   types.WorkerSubmission
	value any
}

func (e *Engine) processUnanimous(task types.VerificationTask, handler TypeHandler, valid []decodedSubmission) (types.VerificationResult, error) {
	canonical := make([][]byte, 0, len(valid))
	for _, d := range valid {
		b, err := handler.Encode(d.value)
		if err != nil {
			return types.VerificationResult{}, err
		}
		canonical = append(canonical, b)
	}
	for i := 1; i < len(canonical); i++ {
		if string(canonical[i]) != string(canonical[0]) {
			return types.VerificationResult{}, types.ErrUnanimousNotReached
		}
	}

	metrics := make([]types.QualityMetrics, 0, len(valid))
	for _, d := range valid {
		metrics = append(metrics, types.QualityMetrics{
			WorkerID:         d.sub.WorkerID,
			Accuracy:         1,
			ProcessingTimeMs: d.sub.ProcessingTimeMs(),
			ConsistencyScore: baselineConsistency,
		})
	}

	return e.finalize(task, handler, valid[0].value, metrics, canonical[0])
}

// finalize derives the confidence level and status, and encodes the
// consensus value if not already encoded (unanimous path passes its
// canonical bytes straight through).
func (e *Engine) finalize(task types.VerificationTask, handler TypeHandler, consensusValue any, metrics []types.QualityMetrics, precomputedBytes []byte) (types.VerificationResult, error) {
	raw := precomputedBytes
	if raw == nil {
		var err error
		raw, err = handler.Encode(consensusValue)
		if err != nil {
			return types.VerificationResult{}, err
		}
	}

	var avgAccuracy, avgConsistency, agreeing float64
	for _, m := range metrics {
		avgAccuracy += m.Accuracy
		avgConsistency += m.ConsistencyScore
		if m.Accuracy >= 0.8 {
			agreeing++
		}
	}
	n := float64(len(metrics))
	avgAccuracy /= n
	avgConsistency /= n
	agreement := agreeing / n

	confidenceScore := 0.4*avgAccuracy + 0.3*avgConsistency + 0.3*agreement

	var level types.ConfidenceLevel
	var status types.VerificationStatus
	switch {
	case confidenceScore >= 0.9:
		level, status = types.ConfidenceHigh, types.VerificationCompleted
	case confidenceScore >= 0.7:
		level, status = types.ConfidenceMedium, types.VerificationNeedsReview
	default:
		level, status = types.ConfidenceLow, types.VerificationFailed
	}

	return types.VerificationResult{
		TaskID:          task.TaskID,
		Status:          status,
		ConsensusValue:  raw,
		ConfidenceLevel: level,
		Metrics:         metrics,
		ProcessedAt:     time.Now(),
	}, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
