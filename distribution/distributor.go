// Package distribution implements C8: routes a task to workers under one
// of three strategies and tracks the resulting assignments' expiry (spec
// §4.8).
package distribution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/auction"
	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/matching"
	"github.com/dataparency-dev/verification-core/types"
)

// Strategy selects how a task is routed to workers.
type Strategy string

const (
	StrategyBroadcast Strategy = "BROADCAST"
	StrategyTargeted  Strategy = "TARGETED"
	StrategyAuction   Strategy = "AUCTION"
)

// Result is C8's output: the assignments made (BROADCAST/TARGETED) or the
// auction opened (AUCTION) for a task.
type Result struct {
	Assignments []types.TaskAssignment
	Auction     *types.Auction
}

// Matcher is the narrow matching.FindBestMatches dependency.
type Matcher interface {
	FindBestMatches(task types.VerificationTask, candidates []types.WorkerProfile, strategy string, k int, cfg config.Config) ([]matching.Match, error)
}

type matcherFunc func(task types.VerificationTask, candidates []types.WorkerProfile, strategy string, k int, cfg config.Config) ([]matching.Match, error)

func (f matcherFunc) FindBestMatches(task types.VerificationTask, candidates []types.WorkerProfile, strategy string, k int, cfg config.Config) ([]matching.Match, error) {
	return f(task, candidates, strategy, k, cfg)
}

// DefaultMatcher wraps the matching package's free function so Distributor
// can depend on the Matcher interface (and tests can substitute a fake).
var DefaultMatcher Matcher = matcherFunc(matching.FindBestMatches)

// Auctioneer is the narrow auction.Manager dependency.
type Auctioneer interface {
	Create(ctx context.Context, task types.VerificationTask, eligibleWorkers []string, minBid, maxBid float64) (types.Auction, error)
	// HistoricalRange reports the observed bid range for a task type from
	// auctions already closed, if any (spec §4.7).
	HistoricalRange(taskType types.TaskType) (min, max float64, ok bool)
}

var _ Auctioneer = (*auction.Manager)(nil)

// Distributor is C8.
type Distributor struct {
	matcher  Matcher
	auctions Auctioneer
	notifier events.Notifier
	cfg      config.Config
	log      zerolog.Logger
}

// New constructs a Distributor.
func New(matcher Matcher, auctions Auctioneer, notifier events.Notifier, cfg config.Config, log zerolog.Logger) *Distributor {
	return &Distributor{
		matcher:  matcher,
		auctions: auctions,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "taskdistributor").Logger(),
	}
}

func expiryFor(p types.Priority, cfg config.Config) time.Duration {
	switch p {
	case types.PriorityHigh:
		return cfg.AssignExpiryHigh
	case types.PriorityMedium:
		return cfg.AssignExpiryMedium
	default:
		return cfg.AssignExpiryLow
	}
}

// Distribute routes task to candidates under strategy (spec §4.8):
// BROADCAST assigns to every eligible candidate, TARGETED assigns to the
// matcher's top MinSubmissions picks, AUCTION opens a sealed-bid auction
// instead of assigning directly.
func (d *Distributor) Distribute(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile, strategy Strategy) (Result, error) {
	switch strategy {
	case StrategyBroadcast:
		return d.broadcast(ctx, task, candidates)
	case StrategyTargeted:
		return d.targeted(ctx, task, candidates)
	case StrategyAuction:
		return d.auctioned(ctx, task, candidates)
	default:
		return Result{}, fmt.Errorf("%w: unknown distribution strategy %q", types.ErrValidation, strategy)
	}
}

func (d *Distributor) broadcast(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile) (Result, error) {
	matches, err := d.matcher.FindBestMatches(task, candidates, "BALANCED", len(candidates), d.cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Assignments: d.assignAll(ctx, task, matches)}, nil
}

func (d *Distributor) targeted(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile) (Result, error) {
	k := task.Requirements.MinSubmissions
	if k <= 0 {
		k = 1
	}
	matches, err := d.matcher.FindBestMatches(task, candidates, "SKILL_FOCUSED", k, d.cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Assignments: d.assignAll(ctx, task, matches)}, nil
}

func (d *Distributor) auctioned(ctx context.Context, task types.VerificationTask, candidates []types.WorkerProfile) (Result, error) {
	k := task.Requirements.MinSubmissions
	if k <= 0 {
		k = 1
	}
	matches, err := d.matcher.FindBestMatches(task, candidates, "BALANCED", k, d.cfg)
	if err != nil {
		return Result{}, err
	}
	workerIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		workerIDs = append(workerIDs, m.WorkerID)
	}

	historicalMin, historicalMax, haveHistory := d.auctions.HistoricalRange(task.TaskType)
	minBid, maxBid := bidRange(task, historicalMin, historicalMax, haveHistory)
	a, err := d.auctions.Create(ctx, task, workerIDs, minBid, maxBid)
	if err != nil {
		return Result{}, err
	}

	for _, workerID := range workerIDs {
		d.notify(ctx, workerID, events.TemplateAuctionAnnouncement, map[string]string{"task_id": task.TaskID, "auction_id": a.AuctionID})
	}

	return Result{Auction: &a}, nil
}

// baseBidMin and baseBidMax are the unscaled bid floor and ceiling before
// the worker-level, priority, and complexity multipliers apply (spec
// §4.7).
const (
	baseBidMin = 1.0
	baseBidMax = 10.0
)

// levelBidMultiplier gives the worker-level scaling factor for the bid
// floor (min) and ceiling (max) independently, since a more senior level
// widens the ceiling faster than the floor (spec §4.7).
func levelBidMultiplier(l types.WorkerLevel) (min, max float64) {
	switch l {
	case types.LevelIntermediate:
		return 1.5, 1.5
	case types.LevelAdvanced:
		return 2.0, 2.5
	case types.LevelExpert:
		return 3.0, 4.0
	default:
		return 1.0, 1.0
	}
}

// priorityBidMultiplier gives the task-priority scaling factor for the
// bid floor and ceiling independently (spec §4.7).
func priorityBidMultiplier(p types.Priority) (min, max float64) {
	switch p {
	case types.PriorityMedium:
		return 1.5, 2.0
	case types.PriorityHigh:
		return 2.0, 3.0
	default:
		return 1.0, 1.0
	}
}

// complexityBidMultiplier widens the bid ceiling only; the spec does not
// scale the floor by complexity (spec §4.7).
func complexityBidMultiplier(c types.Priority) float64 {
	switch c {
	case types.PriorityMedium:
		return 1.5
	case types.PriorityHigh:
		return 2.0
	default:
		return 1.0
	}
}

// bidRange computes the auction's [min,max] bid window (spec §4.7): the
// historical range observed for this task type if any auction has
// already closed for it, else priority x worker-level multipliers on the
// floor and priority x worker-level x complexity multipliers on the
// ceiling. Complexity falls back to the task's Priority when unset.
func bidRange(task types.VerificationTask, historicalMin, historicalMax float64, haveHistory bool) (float64, float64) {
	if haveHistory {
		return historicalMin, historicalMax
	}

	levelMinMult, levelMaxMult := levelBidMultiplier(task.Requirements.WorkerLevel)
	priorityMinMult, priorityMaxMult := priorityBidMultiplier(task.Priority)

	complexity := task.Requirements.Complexity
	if complexity == "" {
		complexity = task.Priority
	}

	min := baseBidMin * levelMinMult * priorityMinMult
	max := baseBidMax * levelMaxMult * priorityMaxMult * complexityBidMultiplier(complexity)
	return min, max
}

func (d *Distributor) assignAll(ctx context.Context, task types.VerificationTask, matches []matching.Match) []types.TaskAssignment {
	expiry := expiryFor(task.Priority, d.cfg)
	now := time.Now()
	assignments := make([]types.TaskAssignment, 0, len(matches))
	for _, m := range matches {
		a := types.TaskAssignment{
			TaskID:     task.TaskID,
			WorkerID:   m.WorkerID,
			AssignedAt: now,
			ExpiresAt:  now.Add(expiry),
		}
		assignments = append(assignments, a)
		d.notify(ctx, m.WorkerID, events.TemplateTaskAssignment, map[string]string{"task_id": task.TaskID})
	}
	return assignments
}

// notify is best-effort: a notification failure never fails distribution
// (spec §4.8, §6).
func (d *Distributor) notify(ctx context.Context, workerID string, template events.NotificationTemplate, payload map[string]string) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Send(ctx, workerID, template, payload); err != nil {
		d.log.Warn().Err(err).Str("worker_id", workerID).Msg("assignment notification failed")
	}
}
