// Package orchestrator implements C9: the end-to-end submission pipeline
// (fraud check, consensus on threshold, reputation update, finalize) plus
// retry/dead-letter handling and stall recovery (spec §4.9).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/distribution"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/fraud"
	"github.com/dataparency-dev/verification-core/security"
	"github.com/dataparency-dev/verification-core/types"
)

// ConsensusEngine is the narrow consensus.Engine dependency.
type ConsensusEngine interface {
	Process(task types.VerificationTask, submissions []types.WorkerSubmission) (types.VerificationResult, error)
}

// ReputationApplier is the narrow reputation.Service dependency.
type ReputationApplier interface {
	ApplyVerification(ctx context.Context, workerID string, taskType types.TaskType, qm types.QualityMetrics, outcome types.TaskOutcome) error
}

// FraudChecker is the narrow fraud.Detector dependency.
type FraudChecker interface {
	Detect(ctx context.Context, req fraud.Request) (types.FraudDetectionResult, error)
}

// TaskDistributor is the narrow distribution.Distributor dependency.
type TaskDistributor interface {
	Distribute(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile, strategy distribution.Strategy) (distribution.Result, error)
}

// taskLocks stripes per-task-ID locking for the pipeline's pending
// submission buffers, the same FNV-striping pattern store.keyLocks uses.
type taskLocks struct {
	stripes []sync.Mutex
}

func newTaskLocks(n int) *taskLocks {
	return &taskLocks{stripes: make([]sync.Mutex, n)}
}

func (t *taskLocks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &t.stripes[int(h.Sum32())%len(t.stripes)]
	m.Lock()
	return m.Unlock
}

// Orchestrator is C9.
type Orchestrator struct {
	consensus   ConsensusEngine
	reputation  ReputationApplier
	fraud       FraudChecker
	distributor TaskDistributor
	bus         events.Bus
	queue       events.Queue
	cfg         config.Config
	log         zerolog.Logger

	locks    *taskLocks
	mu       sync.Mutex
	pending  map[string][]types.WorkerSubmission
	tasks    map[string]types.VerificationTask
	breakers map[string]*security.CircuitBreaker
	cipher   *security.FingerprintCipher
	tokens   map[string]*security.TaskAccessToken // keyed by taskID+"|"+workerID
}

// New constructs an Orchestrator.
func New(
	consensus ConsensusEngine,
	reputation ReputationApplier,
	fraudChecker FraudChecker,
	distributor TaskDistributor,
	bus events.Bus,
	queue events.Queue,
	cfg config.Config,
	log zerolog.Logger,
) *Orchestrator {
	cipher, err := security.NewFingerprintCipher()
	if err != nil {
		log.Warn().Err(err).Msg("fingerprint cipher unavailable, dead letters will carry PII unsealed")
		cipher = nil
	}

	return &Orchestrator{
		consensus:   consensus,
		reputation:  reputation,
		fraud:       fraudChecker,
		distributor: distributor,
		bus:         bus,
		queue:       queue,
		cfg:         cfg,
		log:         log.With().Str("component", "verificationorchestrator").Logger(),
		locks:       newTaskLocks(256),
		pending:     make(map[string][]types.WorkerSubmission),
		tasks:       make(map[string]types.VerificationTask),
		breakers:    make(map[string]*security.CircuitBreaker),
		cipher:      cipher,
		tokens:      make(map[string]*security.TaskAccessToken),
	}
}

// TaskContentCompressed reports whether a tracked task's content payload is
// currently stored zstd-compressed (spec §4.9 Design Notes "Large content"),
// so a caller-facing layer knows whether it must decompress before handing
// the content back out.
func (o *Orchestrator) TaskContentCompressed(taskID string) (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[taskID]
	if !ok {
		return false, false
	}
	return task.ContentCompressed, true
}

func tokenKey(taskID, workerID string) string { return taskID + "|" + workerID }

// AccessToken returns the token minted for a worker's assignment to a
// task, if one was issued, so a caller-facing layer can hand it to the
// worker alongside the assignment.
func (o *Orchestrator) AccessToken(taskID, workerID string) (*security.TaskAccessToken, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tokens[tokenKey(taskID, workerID)]
	return t, ok
}

// issueTokens mints a TaskAccessToken scoping each assignment's worker to
// submitting against that one task, expiring with the assignment itself
// (spec §4.9 Design Notes "Supplemented features", adapted from the
// teacher's Delegation Capability Token).
func (o *Orchestrator) issueTokens(task types.VerificationTask, assignments []types.TaskAssignment) {
	if len(assignments) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range assignments {
		ttl := time.Until(a.ExpiresAt)
		if ttl <= 0 {
			continue
		}
		o.tokens[tokenKey(task.TaskID, a.WorkerID)] = security.MintTaskAccessToken(task.TaskID, a.WorkerID, ttl,
			security.Caveat{Type: "operation", Key: "op", Value: "submit"},
			security.Caveat{Type: "scope", Key: "task", Value: task.TaskID},
		)
	}
}

// validateAccessToken enforces the token minted for this worker's
// assignment, when one was issued. Strategies that never assign directly
// (AUCTION) issue no token, so submissions routed through them skip this
// gate entirely.
func (o *Orchestrator) validateAccessToken(taskID string, submission types.WorkerSubmission) error {
	o.mu.Lock()
	t, ok := o.tokens[tokenKey(taskID, submission.WorkerID)]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if submission.AccessToken != t.TokenID {
		return fmt.Errorf("%w: token mismatch for worker %s", types.ErrInvalidAccessToken, submission.WorkerID)
	}
	if err := t.ValidateAccess("submit", taskID); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidAccessToken, err)
	}
	return nil
}

// filterSuspended drops candidates whose circuit breaker is currently open,
// so a worker suspended after repeated fraud rejections (OnSubmission's
// RecordFailure) is never handed a new assignment.
func (o *Orchestrator) filterSuspended(candidates []types.WorkerProfile) []types.WorkerProfile {
	out := make([]types.WorkerProfile, 0, len(candidates))
	for _, c := range candidates {
		if o.breakerFor(c.WorkerID).IsAllowed() {
			out = append(out, c)
		}
	}
	return out
}

// breakerFor returns the worker's circuit breaker, creating one on first
// use (spec's supplemented "adaptive worker suspension" feature, built on
// the teacher's per-agent circuit breaker).
func (o *Orchestrator) breakerFor(workerID string) *security.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	cb, ok := o.breakers[workerID]
	if !ok {
		cb = security.NewCircuitBreaker(workerID, o.cfg.CircuitBreakerFailureThreshold, o.cfg.CircuitBreakerReputationFloor)
		o.breakers[workerID] = cb
	}
	return cb
}

// OnTaskCreated distributes a new task to candidates and registers it for
// submission tracking (spec §4.9 step 1).
func (o *Orchestrator) OnTaskCreated(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile, strategy distribution.Strategy) (distribution.Result, error) {
	if warnings := security.ScreenTask(task); len(warnings) > 0 {
		o.log.Warn().Str("task_id", task.TaskID).Strs("warnings", warnings).Msg("task screen raised warnings")
	}

	candidates = o.filterSuspended(candidates)

	result, err := o.distributor.Distribute(ctx, task, candidates, strategy)
	if err != nil {
		return distribution.Result{}, err
	}
	o.issueTokens(task, result.Assignments)

	if o.bus != nil {
		if err := o.bus.Publish(ctx, events.TopicTaskCreated, task); err != nil {
			o.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("task.created publish failed")
		}
	}

	o.mu.Lock()
	o.tasks[task.TaskID] = compressLargeContent(task, o.cfg.LargeContentThreshold)
	o.mu.Unlock()

	return result, nil
}

// OnSubmission runs a single submission through the full pipeline: fraud
// screening, buffering, and — once enough submissions have arrived —
// consensus and reputation (spec §4.9 steps 2-5). Returns a nil result
// (and nil error) when the submission was accepted but the task hasn't
// yet reached its required verification count.
func (o *Orchestrator) OnSubmission(ctx context.Context, taskID string, submission types.WorkerSubmission, fraudReq fraud.Request) (*types.VerificationResult, error) {
	unlock := o.locks.Lock(taskID)
	defer unlock()

	o.mu.Lock()
	task, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}

	cb := o.breakerFor(submission.WorkerID)
	if !cb.IsAllowed() {
		return nil, fmt.Errorf("%w: %s", types.ErrWorkerSuspended, submission.WorkerID)
	}

	if err := o.validateAccessToken(taskID, submission); err != nil {
		return nil, err
	}

	fr, err := o.fraud.Detect(ctx, fraudReq)
	if err != nil {
		return nil, fmt.Errorf("fraud detection for task %s: %w", taskID, err)
	}
	if fr.IsFraudulent {
		o.log.Warn().Str("task_id", taskID).Str("worker_id", submission.WorkerID).Strs("reasons", fr.Reasons).Msg("submission rejected by fraud screen")
		if cb.RecordFailure() {
			o.log.Warn().Str("worker_id", submission.WorkerID).Msg("circuit breaker tripped, worker suspended from routing")
		}
		return nil, fmt.Errorf("%w: %v", types.ErrSuspiciousActivity, fr.Reasons)
	}
	cb.RecordSuccess()

	o.mu.Lock()
	o.pending[taskID] = append(o.pending[taskID], submission)
	buffered := len(o.pending[taskID])
	o.mu.Unlock()

	task.CompletedVerifications = buffered
	o.mu.Lock()
	o.tasks[taskID] = task
	o.mu.Unlock()

	if buffered < task.RequiredVerifications {
		return nil, nil
	}

	return o.finalize(ctx, task)
}

// finalize runs consensus and reputation, retrying transient failures
// with exponential backoff before giving up to the dead-letter path (spec
// §4.9, §7).
func (o *Orchestrator) finalize(ctx context.Context, task types.VerificationTask) (*types.VerificationResult, error) {
	o.mu.Lock()
	submissions := append([]types.WorkerSubmission(nil), o.pending[task.TaskID]...)
	o.mu.Unlock()

	var result types.VerificationResult
	op := func() error {
		r, err := o.consensus.Process(task, submissions)
		if err != nil {
			if errors.Is(err, types.ErrInsufficientSubmissions) || errors.Is(err, types.ErrUnanimousNotReached) ||
				errors.Is(err, types.ErrInvalidSubmission) || errors.Is(err, types.ErrValidation) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.cfg.RetryBase
	eb.Multiplier = o.cfg.RetryFactor

	retries := o.cfg.RetryMaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithMaxRetries(eb, uint64(retries))

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		o.deadLetter(ctx, submissions, err)
		return nil, fmt.Errorf("consensus for task %s: %w", task.TaskID, err)
	}

	for i, m := range result.Metrics {
		outcome := types.TaskOutcome{
			TaskID:      task.TaskID,
			TaskType:    task.TaskType,
			Accuracy:    m.Accuracy,
			CompletedAt: result.ProcessedAt,
		}
		if err := o.reputation.ApplyVerification(ctx, m.WorkerID, task.TaskType, result.Metrics[i], outcome); err != nil {
			o.log.Warn().Err(err).Str("worker_id", m.WorkerID).Str("task_id", task.TaskID).Msg("reputation update failed")
		}
	}

	if task.Status.CanTransitionTo(statusFor(result.Status)) {
		task.Status = statusFor(result.Status)
	}

	o.mu.Lock()
	delete(o.pending, task.TaskID)
	o.tasks[task.TaskID] = task
	for _, m := range result.Metrics {
		delete(o.tokens, tokenKey(task.TaskID, m.WorkerID))
	}
	o.mu.Unlock()

	if o.bus != nil {
		if err := o.bus.Publish(ctx, events.TopicVerificationCompleted, result); err != nil {
			o.log.Warn().Err(err).Str("task_id", task.TaskID).Msg("verification.completed publish failed")
		}
	}

	return &result, nil
}

func statusFor(v types.VerificationStatus) types.TaskStatus {
	switch v {
	case types.VerificationCompleted:
		return types.TaskCompleted
	case types.VerificationNeedsReview:
		return types.TaskInProgress
	default:
		return types.TaskFailed
	}
}

func marshalDeadLetter(dl types.DeadLetter) ([]byte, error) {
	return json.Marshal(dl)
}

func (o *Orchestrator) deadLetter(ctx context.Context, submissions []types.WorkerSubmission, reason error) {
	if o.queue == nil {
		return
	}
	for _, s := range submissions {
		dl := types.DeadLetter{Submission: s, Reason: reason.Error(), FailedAt: time.Now()}
		if o.cipher != nil {
			if sealed, err := o.cipher.Seal(s.DeviceFingerprint, s.IPAddress); err == nil {
				dl.SealedFingerprint = sealed
				dl.Submission.DeviceFingerprint = types.DeviceFingerprint{}
				dl.Submission.IPAddress = ""
			} else {
				o.log.Warn().Err(err).Str("worker_id", s.WorkerID).Msg("fingerprint seal failed, dead letter keeps plaintext")
			}
		}
		payload, err := marshalDeadLetter(dl)
		if err != nil {
			o.log.Error().Err(err).Msg("dead letter marshal failed")
			continue
		}
		if err := o.queue.DeadLetter(ctx, "verification.submissions", s.TaskID+"|"+s.WorkerID, payload, reason.Error()); err != nil {
			o.log.Error().Err(err).Str("task_id", s.TaskID).Msg("dead letter enqueue failed")
		}
	}
}

// HandleStall re-routes a task's remaining required verifications to
// fresh candidates when distribution has stalled — a worker pool that
// accepted an assignment but never submitted (spec's supplemented
// adaptive re-routing feature). Workers who already submitted are
// excluded so the same submission can't be double-counted.
func (o *Orchestrator) HandleStall(ctx context.Context, taskID string, candidates []types.WorkerProfile) (distribution.Result, error) {
	unlock := o.locks.Lock(taskID)
	defer unlock()

	o.mu.Lock()
	task, ok := o.tasks[taskID]
	already := append([]types.WorkerSubmission(nil), o.pending[taskID]...)
	o.mu.Unlock()
	if !ok {
		return distribution.Result{}, fmt.Errorf("%w: %s", types.ErrTaskNotFound, taskID)
	}

	needed := task.RequiredVerifications - len(already)
	if needed <= 0 {
		return distribution.Result{}, nil
	}

	submitted := make(map[string]bool, len(already))
	for _, s := range already {
		submitted[s.WorkerID] = true
	}
	remaining := make([]types.WorkerProfile, 0, len(candidates))
	for _, c := range candidates {
		if !submitted[c.WorkerID] {
			remaining = append(remaining, c)
		}
	}
	remaining = o.filterSuspended(remaining)

	task.Requirements.MinSubmissions = needed
	return o.distributor.Distribute(ctx, task, remaining, distribution.StrategyTargeted)
}
