// Package auction implements C7: sealed-bid auctions for task assignment,
// closing exactly once per auction with a final fraud scan over the bid
// pool (spec §4.7).
package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dataparency-dev/verification-core/config"
	"github.com/dataparency-dev/verification-core/events"
	"github.com/dataparency-dev/verification-core/types"
)

// RiskChecker is the narrow fraud.Detector dependency: a memoized lookup,
// never a fresh detection (spec §4.7's scan is cheap, reusing whatever the
// pipeline already knows about a worker for this task).
type RiskChecker interface {
	Peek(workerID, taskID string) (types.FraudDetectionResult, bool)
}

type entry struct {
	auction  types.Auction
	taskType types.TaskType
	mu       sync.Mutex
	closed   atomic.Bool
	timer    *time.Timer
}

// bidHistory tracks the observed bid range for a task type across closed
// auctions, consulted by C8's bidRange before it falls back to the
// priority/worker-level multiplier formula (spec §4.7).
type bidHistory struct {
	min, max float64
}

// Manager is C7.
type Manager struct {
	mu       sync.RWMutex
	auctions map[string]*entry

	historyMu sync.Mutex
	history   map[types.TaskType]bidHistory

	bus  events.Bus
	risk RiskChecker
	cfg  config.Config
	log  zerolog.Logger
}

// New constructs a Manager.
func New(bus events.Bus, risk RiskChecker, cfg config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		auctions: make(map[string]*entry),
		history:  make(map[types.TaskType]bidHistory),
		bus:      bus,
		risk:     risk,
		cfg:      cfg,
		log:      log.With().Str("component", "auctionmanager").Logger(),
	}
}

// HistoricalRange returns the observed [min,max] bid amounts closed
// auctions for taskType have seen, if any have closed yet (spec §4.7:
// "compute min/max bid from historical bid range if present").
func (m *Manager) HistoricalRange(taskType types.TaskType) (float64, float64, bool) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	h, ok := m.history[taskType]
	return h.min, h.max, ok
}

func (m *Manager) recordHistory(taskType types.TaskType, bids []types.Bid) {
	if len(bids) == 0 {
		return
	}
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	h, ok := m.history[taskType]
	for _, b := range bids {
		if !ok || b.Amount < h.min {
			h.min = b.Amount
		}
		if !ok || b.Amount > h.max {
			h.max = b.Amount
		}
		ok = true
	}
	m.history[taskType] = h
}

func windowFor(p types.Priority, cfg config.Config) time.Duration {
	switch p {
	case types.PriorityHigh:
		return cfg.AuctionWindowHigh
	case types.PriorityMedium:
		return cfg.AuctionWindowMedium
	default:
		return cfg.AuctionWindowLow
	}
}

// Create opens a sealed-bid auction for task, eligible to the given
// workers, and schedules its own close at the priority-scaled window
// (spec §4.7).
func (m *Manager) Create(ctx context.Context, task types.VerificationTask, eligibleWorkers []string, minBid, maxBid float64) (types.Auction, error) {
	window := windowFor(task.Priority, m.cfg)
	now := time.Now()

	eligible := make(map[string]bool, len(eligibleWorkers))
	for _, w := range eligibleWorkers {
		eligible[w] = true
	}

	a := types.Auction{
		AuctionID:       uuid.NewString(),
		TaskID:          task.TaskID,
		Status:          types.AuctionOpen,
		StartTime:       now,
		EndTime:         now.Add(window),
		MinBid:          minBid,
		MaxBid:          maxBid,
		EligibleWorkers: eligible,
		RequiredWinners: m.cfg.RequiredWinners,
	}

	e := &entry{auction: a, taskType: task.TaskType}
	e.timer = time.AfterFunc(window, func() {
		if _, err := m.Close(context.Background(), a.AuctionID); err != nil {
			m.log.Warn().Err(err).Str("auction_id", a.AuctionID).Msg("scheduled auction close failed")
		}
	})

	m.mu.Lock()
	m.auctions[a.AuctionID] = e
	m.mu.Unlock()

	return a, nil
}

func (m *Manager) get(auctionID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.auctions[auctionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrAuctionNotFound, auctionID)
	}
	return e, nil
}

// PlaceBid records a sealed bid if the auction is open, the worker is
// eligible, and the amount falls within [MinBid, MaxBid].
func (m *Manager) PlaceBid(ctx context.Context, auctionID, workerID string, amount decimal.Decimal) error {
	e, err := m.get(auctionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Status != types.AuctionOpen {
		return fmt.Errorf("%w: %s", types.ErrAuctionClosed, auctionID)
	}
	if len(e.auction.EligibleWorkers) > 0 && !e.auction.EligibleWorkers[workerID] {
		return fmt.Errorf("%w: worker %s not eligible for auction %s", types.ErrValidation, workerID, auctionID)
	}

	min := decimal.NewFromFloat(e.auction.MinBid)
	max := decimal.NewFromFloat(e.auction.MaxBid)
	if amount.LessThan(min) || amount.GreaterThan(max) {
		return fmt.Errorf("%w: bid %s outside [%s,%s]", types.ErrValidation, amount, min, max)
	}

	f, _ := amount.Float64()
	e.auction.Bids = append(e.auction.Bids, types.Bid{
		WorkerID:  workerID,
		Amount:    f,
		Timestamp: time.Now(),
	})
	return nil
}

// Close runs exactly once per auction (guarded by an atomic CAS on the
// entry), drops any bid from a worker the fraud pipeline has already
// flagged HIGH/CRITICAL for this task, and selects the highest-amount
// bids up to RequiredWinners, tie-broken by earliest timestamp (spec
// §4.7: "sort all remaining bids by amount descending").
func (m *Manager) Close(ctx context.Context, auctionID string) (types.Auction, error) {
	e, err := m.get(auctionID)
	if err != nil {
		return types.Auction{}, err
	}

	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Lock()
		a := e.auction
		e.mu.Unlock()
		return a, nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Status != types.AuctionOpen {
		return e.auction, nil
	}

	survivors := make([]types.Bid, 0, len(e.auction.Bids))
	for _, b := range e.auction.Bids {
		if m.risk != nil {
			if r, ok := m.risk.Peek(b.WorkerID, e.auction.TaskID); ok && (r.FraudLevel == types.FraudHigh || r.FraudLevel == types.FraudCritical) {
				m.log.Warn().Str("worker_id", b.WorkerID).Str("auction_id", auctionID).Msg("bid dropped by final fraud scan")
				continue
			}
		}
		survivors = append(survivors, b)
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Amount != survivors[j].Amount {
			return survivors[i].Amount > survivors[j].Amount
		}
		return survivors[i].Timestamp.Before(survivors[j].Timestamp)
	})

	n := e.auction.RequiredWinners
	if n > len(survivors) {
		n = len(survivors)
	}
	winners := make([]string, 0, n)
	for i := 0; i < n; i++ {
		winners = append(winners, survivors[i].WorkerID)
	}

	e.auction.Status = types.AuctionClosed
	e.auction.Winners = winners
	m.recordHistory(e.taskType, survivors)

	if m.bus != nil {
		if err := m.bus.Publish(ctx, events.TopicTaskAssigned, e.auction); err != nil {
			m.log.Warn().Err(err).Msg("auction-closed publish failed")
		}
	}

	return e.auction, nil
}

// Cancel marks an open auction CANCELLED, stopping its scheduled close.
func (m *Manager) Cancel(ctx context.Context, auctionID, reason string) error {
	e, err := m.get(auctionID)
	if err != nil {
		return err
	}

	if !e.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", types.ErrAuctionClosed, auctionID)
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	e.mu.Lock()
	e.auction.Status = types.AuctionCancelled
	e.mu.Unlock()

	m.log.Info().Str("auction_id", auctionID).Str("reason", reason).Msg("auction cancelled")
	return nil
}

// Get returns a snapshot of an auction's current state.
func (m *Manager) Get(auctionID string) (types.Auction, error) {
	e, err := m.get(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auction, nil
}
