// Package reputation implements C5: folds a completed verification's
// quality metrics back into a worker's skills, reputation, level, and task
// history (spec §4.5).
package reputation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/types"
)

// ProfileStore is the narrow WorkerStore dependency ReputationService
// needs, kept as an interface so it can be tested without a live store
// (the same pattern as fraud.SkillLookup).
type ProfileStore interface {
	GetWorker(ctx context.Context, id string, allowStale bool) (*types.WorkerProfile, error)
	UpdateProfile(ctx context.Context, profile types.WorkerProfile) error
	InvalidateCache(id string)
}

// FraudInvalidator is the narrow fraud.Detector dependency: a reputation
// change must never leave a stale memoized fraud result behind for that
// worker (spec §4.3).
type FraudInvalidator interface {
	InvalidateWorker(workerID string)
}

// Service is C5.
type Service struct {
	workers ProfileStore
	fraud   FraudInvalidator
	cfg     config.Config
	log     zerolog.Logger
}

// New constructs a Service.
func New(workers ProfileStore, fraud FraudInvalidator, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		workers: workers,
		fraud:   fraud,
		cfg:     cfg,
		log:     log.With().Str("component", "reputationservice").Logger(),
	}
}

// ApplyVerification folds one worker's contribution to a completed
// VerificationResult back into their profile: skill (adaptive learning
// rate), reputation score (replaced by reputationFactor) and points
// (monotonic), level, per-task-type metrics (EMA), and task history
// (spec §4.5).
func (s *Service) ApplyVerification(ctx context.Context, workerID string, taskType types.TaskType, qm types.QualityMetrics, outcome types.TaskOutcome) error {
	profile, err := s.workers.GetWorker(ctx, workerID, false)
	if err != nil {
		return fmt.Errorf("load worker %s for reputation update: %w", workerID, err)
	}

	if profile.Skills == nil {
		profile.Skills = make(map[types.TaskType]int)
	}
	if profile.Metrics == nil {
		profile.Metrics = make(map[types.TaskType]types.TaskMetrics)
	}

	profile.Skills[taskType] = updateSkill(profile.Skills[taskType], qm.Accuracy, qm.ConsistencyScore, normalizedSpeed(qm.ProcessingTimeMs))

	factor := reputationFactor(qm, taskType)
	profile.ReputationScore = factor
	profile.ReputationPoints += pointsEarned(factor / 100)
	profile.Level = types.LevelForPoints(profile.ReputationPoints)

	profile.Metrics[taskType] = types.TaskMetrics{
		Accuracy:    ema(profile.Metrics[taskType].Accuracy, qm.Accuracy, s.cfg.ReputationEMAAlpha),
		Speed:       ema(profile.Metrics[taskType].Speed, normalizedSpeed(qm.ProcessingTimeMs), s.cfg.ReputationEMAAlpha),
		Consistency: ema(profile.Metrics[taskType].Consistency, qm.ConsistencyScore, s.cfg.ReputationEMAAlpha),
	}

	profile.AppendOutcome(outcome)

	if err := s.workers.UpdateProfile(ctx, *profile); err != nil {
		return fmt.Errorf("persist reputation update for %s: %w", workerID, err)
	}

	s.workers.InvalidateCache(workerID)
	if s.fraud != nil {
		s.fraud.InvalidateWorker(workerID)
	}

	return nil
}

// updateSkill nudges a [0,100] skill value toward this task's performance
// (spec §4.5): newSkillPerf = 0.6·accuracy + 0.3·consistency +
// 0.1·speedScore, applied at an adaptive learning rate that decays as
// current skill rises, so a veteran's skill moves less per task than a
// newcomer's — max(0.1, 1 − 0.8·currentSkill/100).
func updateSkill(current int, accuracy, consistency, speedScore float64) int {
	newSkillPerf := 0.6*accuracy + 0.3*consistency + 0.1*speedScore
	lr := 1 - 0.8*float64(current)/100
	if lr < 0.1 {
		lr = 0.1
	}
	next := float64(current) + lr*(newSkillPerf*100-float64(current))
	return int(clamp(next, 0, 100))
}

// complexityWeight is the spec §4.5 reputation-factor "complexity" term
// per task type, ordered by how much interpretive judgment each type
// demands beyond straightforward classification (Open Question: the spec
// names the term but not its values).
var complexityWeight = map[types.TaskType]float64{
	types.TaskTypeTextClassification:  0.3,
	types.TaskTypeImageClassification: 0.4,
	types.TaskTypeSentimentAnalysis:   0.4,
	types.TaskTypeDuplicateDetection:  0.5,
	types.TaskTypeEntityRecognition:   0.6,
	types.TaskTypeGeolocationVerify:   0.6,
	types.TaskTypeContentModeration:   0.7,
	types.TaskTypeAudioTranscription:  0.8,
	types.TaskTypeVideoClassification: 0.8,
	types.TaskTypeTranslationQuality:  0.9,
}

// taskCompletion is the spec §4.5 reputation-factor term of the same
// name, fixed at 1.0: ApplyVerification only ever runs for a worker's
// contribution to a verification that reached a terminal consensus.
const taskCompletion = 1.0

// reputationFactor is the worker's new [0,100] reputation score, applied
// directly rather than blended with the prior score (spec §4.5): 100·
// (0.1·taskCompletion + 0.3·accuracy + 0.2·consistency + 0.2·speed +
// 0.2·complexity).
func reputationFactor(qm types.QualityMetrics, taskType types.TaskType) float64 {
	complexity := complexityWeight[taskType]
	score := 100 * (0.1*taskCompletion + 0.3*qm.Accuracy + 0.2*qm.ConsistencyScore + 0.2*normalizedSpeed(qm.ProcessingTimeMs) + 0.2*complexity)
	return clamp(score, 0, 100)
}

// pointsEarned converts a [0,1] composite factor into cumulative points;
// ReputationPoints only ever grows (spec §4.5, Open Question #2).
func pointsEarned(factor float64) int {
	points := int(factor * 10)
	if points < 1 {
		points = 1
	}
	return points
}

// normalizedSpeed maps a processing time to [0,1], favoring faster
// submissions without rewarding implausibly instantaneous ones (those are
// fraud.detectTime's job, not reputation's).
func normalizedSpeed(processingTimeMs int64) float64 {
	const targetMs = 15000.0
	if processingTimeMs <= 0 {
		return 0
	}
	score := targetMs / float64(processingTimeMs)
	return clamp(score, 0, 1)
}

func ema(current, observed, alpha float64) float64 {
	if current == 0 {
		return observed
	}
	return current*(1-alpha) + observed*alpha
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
