package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/types"
)

const (
	DomainWorkers = "Workers"
)

// keyLocks is a striped per-key mutex, used by WorkerStore to serialize
// writes to a single worker. Reads take no lock; workers whose IDs hash to
// the same stripe share a mutex, so their writes also serialize with each
// other (spec §5 "per-key serialization").
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = 256
	}
	return &keyLocks{stripes: make([]sync.Mutex, n)}
}

func (k *keyLocks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[int(h.Sum32())%len(k.stripes)]
	m.Lock()
	return m.Unlock
}

// WorkerStore is C1: durable worker profiles with a read-through TTL
// cache, and per-worker write serialization.
type WorkerStore struct {
	kv         KV
	cache      *gocache.Cache
	locks      *keyLocks
	log        zerolog.Logger
	profileTTL time.Duration
}

// New constructs a WorkerStore. profileTTL/activityTTL mirror spec §4.1's
// defaults (10 min / 5 min) — WorkerStore only owns the profile cache;
// ActivityIndex (package activity) owns its own activity-list cache, kept
// deliberately separate so the two caching strategies named in
// SPEC_FULL.md (pure TTL vs LRU+TTL) stay independent and evictable on
// their own terms.
func New(kv KV, profileTTL time.Duration, log zerolog.Logger) *WorkerStore {
	return &WorkerStore{
		kv:         kv,
		cache:      gocache.New(profileTTL, profileTTL*2),
		locks:      newKeyLocks(256),
		log:        log.With().Str("component", "workerstore").Logger(),
		profileTTL: profileTTL,
	}
}

// GetWorker reads a worker profile, preferring the cache. If allowStale is
// true, the last successfully read copy of the profile (kept without
// expiry) is returned when the durable read fails (spec §4.1: "used by
// non-critical paths").
func (s *WorkerStore) GetWorker(ctx context.Context, id string, allowStale bool) (*types.WorkerProfile, error) {
	if v, ok := s.cache.Get(id); ok {
		p := v.(types.WorkerProfile)
		return &p, nil
	}

	data, err := s.kv.Get(ctx, DomainWorkers, id, "profile")
	if err != nil {
		if allowStale {
			if v, ok := s.cache.Get("stale|" + id); ok {
				p := v.(types.WorkerProfile)
				s.log.Warn().Str("worker_id", id).Msg("serving stale worker profile after storage failure")
				return &p, nil
			}
		}
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrWorkerNotFound, id)
		}
		return nil, err
	}

	var p types.WorkerProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal worker profile %s: %w", id, err)
	}
	s.cache.Set(id, p, s.profileTTL)
	s.cache.Set("stale|"+id, p, gocache.NoExpiration)
	return &p, nil
}

// CreateWorker stores a brand-new profile, seeding default metrics/skills
// for every registered task type.
func (s *WorkerStore) CreateWorker(ctx context.Context, profile types.WorkerProfile) error {
	unlock := s.locks.Lock(profile.WorkerID)
	defer unlock()

	if profile.Skills == nil {
		profile.Skills = make(map[types.TaskType]int)
	}
	if profile.Metrics == nil {
		profile.Metrics = make(map[types.TaskType]TaskMetricsAlias)
	}
	if profile.Status == "" {
		profile.Status = types.WorkerAvailable
	}
	if profile.Level == "" {
		profile.Level = types.LevelForPoints(profile.ReputationPoints)
	}

	return s.write(ctx, profile)
}

// TaskMetricsAlias exists purely so CreateWorker's nil-map seeding above
// reads naturally; it is types.TaskMetrics under the hood.
type TaskMetricsAlias = types.TaskMetrics

// UpdateProfile persists a full profile replacement (the caller is
// expected to have read-modify-written under its own lock scope, or to be
// ReputationService/another C1-lock holder).
func (s *WorkerStore) UpdateProfile(ctx context.Context, profile types.WorkerProfile) error {
	unlock := s.locks.Lock(profile.WorkerID)
	defer unlock()
	return s.write(ctx, profile)
}

// UpdateStatus transitions a worker's status, validating the allowed edges
// from spec §3: AVAILABLE<->BUSY, AVAILABLE->SUSPENDED, SUSPENDED->AVAILABLE.
func (s *WorkerStore) UpdateStatus(ctx context.Context, id string, next types.WorkerStatus, reason string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}

	if !validStatusTransition(p.Status, next) {
		return fmt.Errorf("%w: worker %s cannot move %s -> %s", types.ErrValidation, id, p.Status, next)
	}

	p.Status = next
	if next == types.WorkerSuspended {
		p.SuspensionReason = reason
	} else {
		p.SuspensionReason = ""
	}
	return s.write(ctx, *p)
}

func validStatusTransition(from, to types.WorkerStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case types.WorkerAvailable:
		return to == types.WorkerBusy || to == types.WorkerSuspended || to == types.WorkerInactive
	case types.WorkerBusy:
		return to == types.WorkerAvailable || to == types.WorkerSuspended
	case types.WorkerSuspended:
		return to == types.WorkerAvailable
	case types.WorkerInactive:
		return to == types.WorkerAvailable
	default:
		return false
	}
}

// UpdateSkills merges the given per-task-type skill updates into the
// worker's profile, clamping to [0,100].
func (s *WorkerStore) UpdateSkills(ctx context.Context, id string, skills map[types.TaskType]int) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if p.Skills == nil {
		p.Skills = make(map[types.TaskType]int)
	}
	for tt, v := range skills {
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		p.Skills[tt] = v
	}
	return s.write(ctx, *p)
}

// UpdateActivityMetrics merges per-task-type TaskMetrics (accuracy, speed,
// consistency) into the profile.
func (s *WorkerStore) UpdateActivityMetrics(ctx context.Context, id string, metrics map[types.TaskType]types.TaskMetrics) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if p.Metrics == nil {
		p.Metrics = make(map[types.TaskType]types.TaskMetrics)
	}
	for tt, m := range metrics {
		p.Metrics[tt] = m
	}
	return s.write(ctx, *p)
}

// InvalidateCache evicts a worker's cached profile — called by
// ReputationService after it changes a worker's reputation. C3's
// fraud-memoization cache is cleared separately, by
// fraud.Detector.InvalidateWorker.
func (s *WorkerStore) InvalidateCache(id string) {
	s.cache.Delete(id)
}

// getLocked reads straight through to the store (bypassing the
// allowStale path) — used internally by mutators, which must always
// operate on fresh state since they already hold the per-worker lock.
func (s *WorkerStore) getLocked(ctx context.Context, id string) (*types.WorkerProfile, error) {
	data, err := s.kv.Get(ctx, DomainWorkers, id, "profile")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrWorkerNotFound, id)
		}
		return nil, err
	}
	var p types.WorkerProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal worker profile %s: %w", id, err)
	}
	return &p, nil
}

// write persists the profile and invalidates the cache entry for the
// affected worker before returning (spec §4.1: "writes go through ...
// and invalidate the cache entry ... before returning").
func (s *WorkerStore) write(ctx context.Context, p types.WorkerProfile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal worker profile %s: %w", p.WorkerID, err)
	}
	if err := s.kv.Put(ctx, DomainWorkers, p.WorkerID, "profile", data); err != nil {
		return err
	}
	s.cache.Delete(p.WorkerID)
	return nil
}
