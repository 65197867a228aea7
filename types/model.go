// Package types defines the core data structures shared across every
// verification-core component: tasks, worker profiles, submissions,
// activity records, auctions, and results.
package types

import "time"

// ─── Task types ───────────────────────────────────────────────────────────

// TaskType enumerates the ten task families the consensus engine knows how
// to aggregate (spec §3, §4.4, §4.9 — a function table per task type, no
// inheritance).
type TaskType string

const (
	TaskTypeTextClassification    TaskType = "text_classification"
	TaskTypeImageClassification   TaskType = "image_classification"
	TaskTypeSentimentAnalysis     TaskType = "sentiment_analysis"
	TaskTypeEntityRecognition     TaskType = "entity_recognition"
	TaskTypeContentModeration     TaskType = "content_moderation"
	TaskTypeAudioTranscription    TaskType = "audio_transcription"
	TaskTypeVideoClassification   TaskType = "video_classification"
	TaskTypeTranslationQuality    TaskType = "translation_quality"
	TaskTypeDuplicateDetection    TaskType = "duplicate_detection"
	TaskTypeGeolocationVerify     TaskType = "geolocation_verification"
)

// AllTaskTypes is used by components that must range over every registered
// task type (e.g. building default skill/metric maps for a new worker).
var AllTaskTypes = []TaskType{
	TaskTypeTextClassification,
	TaskTypeImageClassification,
	TaskTypeSentimentAnalysis,
	TaskTypeEntityRecognition,
	TaskTypeContentModeration,
	TaskTypeAudioTranscription,
	TaskTypeVideoClassification,
	TaskTypeTranslationQuality,
	TaskTypeDuplicateDetection,
	TaskTypeGeolocationVerify,
}

// Priority drives auction windows, assignment expiries, and matcher
// eligibility thresholds (spec §4.6, §4.7, §4.8).
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// ConsensusStrategy selects the aggregation rule a task's submissions are
// fused with (spec §3, §4.4).
type ConsensusStrategy string

const (
	ConsensusMajority  ConsensusStrategy = "MAJORITY"
	ConsensusWeighted  ConsensusStrategy = "WEIGHTED"
	ConsensusUnanimous ConsensusStrategy = "UNANIMOUS"
)

// TaskStatus is the task lifecycle state machine (spec §3 invariants: never
// moves backward).
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskExpired    TaskStatus = "EXPIRED"
)

// taskStatusRank gives each status its place in the forward-only ordering;
// used by TaskStatus.CanTransitionTo to enforce the "never backward"
// invariant without hardcoding pairwise rules.
var taskStatusRank = map[TaskStatus]int{
	TaskPending:    0,
	TaskAssigned:   1,
	TaskInProgress: 2,
	TaskCompleted:  3,
	TaskFailed:     3,
	TaskExpired:    3,
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic state-machine invariant. Terminal states (COMPLETED/FAILED/
// EXPIRED) cannot transition anywhere.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s == TaskCompleted || s == TaskFailed || s == TaskExpired {
		return false
	}
	return taskStatusRank[next] >= taskStatusRank[s]
}

// TaskRequirements gates which workers may receive a task (spec §3, §4.6).
type TaskRequirements struct {
	MinSubmissions int          `json:"min_submissions"`
	WorkerLevel    WorkerLevel  `json:"worker_level"`
	MinReputation  float64      `json:"min_reputation"`
	// Complexity scales auction ceiling bids independently of Priority
	// (spec §4.7); empty falls back to the task's Priority.
	Complexity Priority `json:"complexity,omitempty"`
}

// VerificationTask is the unit of work routed through distribution,
// fraud-checking, consensus, and reputation (spec §3).
type VerificationTask struct {
	TaskID                string            `json:"task_id"`
	TaskType              TaskType          `json:"task_type"`
	Priority              Priority          `json:"priority"`
	ConsensusStrategy     ConsensusStrategy `json:"consensus_strategy"`
	Requirements          TaskRequirements  `json:"requirements"`
	Content               []byte            `json:"content"`
	// ContentCompressed marks Content as zstd-compressed (spec §4.9 Design
	// Notes "Large content"). Set internally by the orchestrator's task
	// table once Content crosses the configured inline-storage threshold;
	// callers constructing a task directly should leave it false.
	ContentCompressed     bool              `json:"content_compressed,omitempty"`
	Status                TaskStatus        `json:"status"`
	CompletedVerifications int              `json:"completed_verifications"`
	RequiredVerifications  int              `json:"required_verifications"`
	CreatedAt             time.Time         `json:"created_at"`
	ExpiresAt             time.Time         `json:"expires_at"`
}

// ─── Worker profile ───────────────────────────────────────────────────────

type WorkerStatus string

const (
	WorkerAvailable WorkerStatus = "AVAILABLE"
	WorkerBusy      WorkerStatus = "BUSY"
	WorkerSuspended WorkerStatus = "SUSPENDED"
	WorkerInactive  WorkerStatus = "INACTIVE"
)

// WorkerLevel is used both for matcher eligibility thresholds (spec §4.6)
// and as the cumulative-points-derived band (spec §4.5, Open Question #2).
type WorkerLevel string

const (
	LevelBeginner     WorkerLevel = "BEGINNER"
	LevelIntermediate WorkerLevel = "INTERMEDIATE"
	LevelAdvanced     WorkerLevel = "ADVANCED"
	LevelExpert       WorkerLevel = "EXPERT"
)

// levelSkillFloor is the per-level required skill value used by the
// matcher's eligibility filter (spec §4.6).
var levelSkillFloor = map[WorkerLevel]int{
	LevelBeginner:     1,
	LevelIntermediate: 4,
	LevelAdvanced:     7,
	LevelExpert:       9,
}

// SkillFloor returns the minimum per-task-type skill value a worker needs
// to be eligible for a task requiring this level.
func (l WorkerLevel) SkillFloor() int {
	return levelSkillFloor[l]
}

// LevelForPoints derives the cumulative-points level band (spec §4.5):
// BEGINNER 0, INTERMEDIATE >=100, ADVANCED >=250, EXPERT >=500. Pure and
// deterministic, as the Design Notes require.
func LevelForPoints(points int) WorkerLevel {
	switch {
	case points >= 500:
		return LevelExpert
	case points >= 250:
		return LevelAdvanced
	case points >= 100:
		return LevelIntermediate
	default:
		return LevelBeginner
	}
}

// TaskMetrics is the canonical per-task-type performance record (Open
// Question #1 resolved in favor of this single schema; accuracy/speed/
// consistency each in [0,1]).
type TaskMetrics struct {
	Accuracy    float64 `json:"accuracy"`
	Speed       float64 `json:"speed"`
	Consistency float64 `json:"consistency"`
}

// TaskOutcome is one entry of a worker's rolling task history (spec §3,
// ring-buffer of the last 100).
type TaskOutcome struct {
	TaskID      string    `json:"task_id"`
	TaskType    TaskType  `json:"task_type"`
	Accuracy    float64   `json:"accuracy"`
	CompletedAt time.Time `json:"completed_at"`
}

// WorkerProfile is the persistent, per-worker state that feeds both task
// routing and consensus weighting (spec §3).
type WorkerProfile struct {
	WorkerID          string                     `json:"worker_id"`
	Status            WorkerStatus               `json:"status"`
	Level             WorkerLevel                `json:"level"`
	Skills            map[TaskType]int           `json:"skills"`           // [0,100]
	ReputationScore   float64                    `json:"reputation_score"` // [0,100], moving
	ReputationPoints  int                        `json:"reputation_points"` // cumulative, monotonic
	Metrics           map[TaskType]TaskMetrics   `json:"metrics"`
	Specializations   []string                   `json:"specializations"`
	TaskHistory       []TaskOutcome              `json:"task_history"` // ring buffer, cap 100
	SuspensionReason  string                     `json:"suspension_reason,omitempty"`
}

// MaxTaskHistory is the ring-buffer capacity for WorkerProfile.TaskHistory.
const MaxTaskHistory = 100

// AppendOutcome pushes a new outcome, keeping only the last MaxTaskHistory
// entries (spec §4.5 "ring-buffer semantics").
func (p *WorkerProfile) AppendOutcome(o TaskOutcome) {
	p.TaskHistory = append(p.TaskHistory, o)
	if len(p.TaskHistory) > MaxTaskHistory {
		p.TaskHistory = p.TaskHistory[len(p.TaskHistory)-MaxTaskHistory:]
	}
}

// ─── Submissions & activity ───────────────────────────────────────────────

// WorkerSubmission is a single worker's answer to a task (spec §3).
type WorkerSubmission struct {
	TaskID      string    `json:"task_id"`
	WorkerID    string    `json:"worker_id"`
	Result      []byte    `json:"result"` // opaque, schema-validated per TaskType at ingress
	Confidence  float64   `json:"confidence"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DeviceFingerprint DeviceFingerprint `json:"device_fingerprint"`
	IPAddress   string    `json:"ip_address"`
	// AccessToken is the TokenID of the security.TaskAccessToken the
	// orchestrator minted for this worker's assignment, echoed back at
	// submission time (spec §4.9 Design Notes "Supplemented features").
	AccessToken string `json:"access_token,omitempty"`
}

// ProcessingTimeMs is completedAt - startedAt in milliseconds.
func (s WorkerSubmission) ProcessingTimeMs() int64 {
	return s.CompletedAt.Sub(s.StartedAt).Milliseconds()
}

// DeviceFingerprint carries the automation-detection signals used by C3's
// network detector (spec §4.3).
type DeviceFingerprint struct {
	Canvas  string   `json:"canvas"`
	WebGL   string   `json:"webgl"`
	Plugins []string `json:"plugins"`
}

// Blocked reports whether all three automation-indicative fields are empty
// (spec §4.3: "Fingerprints that block canvas+webgl+plugins (three-of-three)
// are treated as automation signals").
func (f DeviceFingerprint) Blocked() bool {
	return f.Canvas == "" && f.WebGL == "" && len(f.Plugins) == 0
}

// WorkerActivity is the append-only event recorded per submission decision
// (spec §3, §4.2 — source of truth for time-window queries).
type WorkerActivity struct {
	WorkerID         string    `json:"worker_id"`
	TaskID           string    `json:"task_id"`
	TaskType         TaskType  `json:"task_type"`
	Decision         Decision  `json:"decision"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// Decision is the coarse outcome recorded per activity, used by C3's
// pattern detector's decisionRatio rule.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ─── Auctions ──────────────────────────────────────────────────────────────

type AuctionStatus string

const (
	AuctionOpen      AuctionStatus = "OPEN"
	AuctionClosed    AuctionStatus = "CLOSED"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

// Bid is a sealed offer from a worker to take on a task (spec §3, §4.7).
type Bid struct {
	WorkerID  string    `json:"worker_id"`
	Amount    float64   `json:"amount"` // float64; the auction package checks bid ranges with decimal
	Timestamp time.Time `json:"timestamp"`
}

// Auction is the sealed-bid state machine instance for one task (spec §3,
// §4.7). Status transitions OPEN -> {CLOSED, CANCELLED}, both terminal.
type Auction struct {
	AuctionID        string        `json:"auction_id"`
	TaskID           string        `json:"task_id"`
	Status           AuctionStatus `json:"status"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	MinBid           float64       `json:"min_bid"`
	MaxBid           float64       `json:"max_bid"`
	Bids             []Bid         `json:"bids"`
	EligibleWorkers  map[string]bool `json:"eligible_workers"`
	Winners          []string      `json:"winners,omitempty"`
	RequiredWinners  int           `json:"required_winners"`
}

// TaskAssignment is a worker's claim on a task, with an expiry the
// distributor tracks (spec §4.8).
type TaskAssignment struct {
	TaskID    string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	AssignedAt time.Time `json:"assigned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ─── Results ───────────────────────────────────────────────────────────────

type VerificationStatus string

const (
	VerificationCompleted   VerificationStatus = "COMPLETED"
	VerificationNeedsReview VerificationStatus = "NEEDS_REVIEW"
	VerificationFailed      VerificationStatus = "FAILED"
)

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// QualityMetrics is the per-worker scoring computed during consensus
// aggregation (spec §4.4 step 2).
type QualityMetrics struct {
	WorkerID         string  `json:"worker_id"`
	Accuracy         float64 `json:"accuracy"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	ConsistencyScore float64 `json:"consistency_score"`
	Weight           float64 `json:"weight,omitempty"` // only populated for WEIGHTED strategy
}

// VerificationResult is C4's output, consumed by C5 and published by C9
// (spec §3).
type VerificationResult struct {
	TaskID          string             `json:"task_id"`
	Status          VerificationStatus `json:"status"`
	ConsensusValue  []byte             `json:"consensus_value"`
	ConfidenceLevel ConfidenceLevel    `json:"confidence_level"`
	Metrics         []QualityMetrics   `json:"metrics"`
	Fraud           *FraudDetectionResult `json:"fraud,omitempty"`
	ProcessedAt     time.Time          `json:"processed_at"`
}

// ─── Fraud ──────────────────────────────────────────────────────────────────

type FraudLevel string

const (
	FraudLow      FraudLevel = "LOW"
	FraudMedium   FraudLevel = "MEDIUM"
	FraudHigh     FraudLevel = "HIGH"
	FraudCritical FraudLevel = "CRITICAL"
)

// FraudAction is a recommended action tag attached to a detection result
// (spec §4.3).
type FraudAction string

const (
	ActionMonitor                     FraudAction = "MONITOR"
	ActionEnhancedMonitoring          FraudAction = "ENABLE_ENHANCED_MONITORING"
	ActionRequireAdditionalVerify     FraudAction = "REQUIRE_ADDITIONAL_VERIFICATION"
	ActionIncreaseVerifyRequirements  FraudAction = "INCREASE_VERIFICATION_REQUIREMENTS"
	ActionRestrictTaskAccess          FraudAction = "RESTRICT_TASK_ACCESS"
	ActionFlagForReview               FraudAction = "FLAG_FOR_REVIEW"
	ActionSuspendAccount              FraudAction = "SUSPEND_ACCOUNT"
	ActionInvalidateRecentSubmissions FraudAction = "INVALIDATE_RECENT_SUBMISSIONS"
	ActionBlockPayments               FraudAction = "BLOCK_PAYMENTS"
	ActionTriggerManualReview         FraudAction = "TRIGGER_MANUAL_REVIEW"
)

// SignalScores carries the four independent sub-detector scores before
// weighting (spec §4.3).
type SignalScores struct {
	Time    float64 `json:"time"`
	Pattern float64 `json:"pattern"`
	Network float64 `json:"network"`
	Content float64 `json:"content"`
}

// FraudDetectionResult is C3's output (spec §3).
type FraudDetectionResult struct {
	IsFraudulent bool          `json:"is_fraudulent"`
	RiskScore    float64       `json:"risk_score"`
	FraudLevel   FraudLevel    `json:"fraud_level"`
	Confidence   float64       `json:"confidence"`
	Reasons      []string      `json:"reasons"`
	Actions      []FraudAction `json:"actions"`
	Signals      SignalScores  `json:"signals"`
}

// ─── Dead letter ────────────────────────────────────────────────────────────

// DeadLetter records a submission that could not be processed after
// exhausting retries (spec §4.9). SealedFingerprint carries the worker's
// device fingerprint and IP address encrypted at rest; Submission's own
// copies are scrubbed before this ever reaches durable storage.
type DeadLetter struct {
	Submission        WorkerSubmission `json:"submission"`
	SealedFingerprint []byte           `json:"sealed_fingerprint,omitempty"`
	Reason            string           `json:"reason"`
	FailedAt          time.Time        `json:"failed_at"`
}
