// Package activity implements C2 (ActivityIndex): the time-windowed view
// of recent worker submissions used by fraud detection and reputation.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/dataparency-dev/verification-core/store"
	"github.com/dataparency-dev/verification-core/types"
)

const DomainActivity = "Activity"

// Index is C2: an append-only per-worker activity log, backed by the
// shared durable KV, mirrored through a bounded LRU+TTL cache so
// RecentActivity rarely needs a durable round-trip (spec §4.2, §5 —
// "entry eviction uses LRU plus TTL").
type Index struct {
	kv    store.KV
	cache *lru.LRU[string, []types.WorkerActivity]
	log   zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{} // idempotency: (workerId, taskId, timestamp)
}

// New constructs an Index. eventTTL bounds how long a worker's activity
// snapshot is trusted in cache (spec default 24h for storage-cost
// control); capacity bounds the number of distinct workers mirrored.
func New(kv store.KV, capacity int, eventTTL time.Duration, log zerolog.Logger) *Index {
	return &Index{
		kv:    kv,
		cache: lru.NewLRU[string, []types.WorkerActivity](capacity, nil, eventTTL),
		log:   log.With().Str("component", "activityindex").Logger(),
		seen:  make(map[string]struct{}),
	}
}

func dedupeKey(a types.WorkerActivity) string {
	return fmt.Sprintf("%s|%s|%d", a.WorkerID, a.TaskID, a.Timestamp.UnixNano())
}

// Record appends a new activity event. Inserts are idempotent on
// (workerId, taskId, timestamp) (spec §4.2).
func (idx *Index) Record(ctx context.Context, a types.WorkerActivity) error {
	dk := dedupeKey(a)

	idx.mu.Lock()
	if _, dup := idx.seen[dk]; dup {
		idx.mu.Unlock()
		return nil
	}
	idx.seen[dk] = struct{}{}
	idx.mu.Unlock()

	existing, _ := idx.load(ctx, a.WorkerID)
	existing = append(existing, a)
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Timestamp.Before(existing[j].Timestamp)
	})

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal activity for %s: %w", a.WorkerID, err)
	}
	if err := idx.kv.Put(ctx, DomainActivity, a.WorkerID, "log", data); err != nil {
		return err
	}
	idx.cache.Add(a.WorkerID, existing)
	return nil
}

func (idx *Index) load(ctx context.Context, workerID string) ([]types.WorkerActivity, error) {
	if v, ok := idx.cache.Get(workerID); ok {
		return append([]types.WorkerActivity(nil), v...), nil
	}

	data, err := idx.kv.Get(ctx, DomainActivity, workerID, "log")
	if err != nil {
		// No history yet is not an error — an empty slice is correct.
		return nil, nil
	}
	var activities []types.WorkerActivity
	if err := json.Unmarshal(data, &activities); err != nil {
		return nil, fmt.Errorf("unmarshal activity for %s: %w", workerID, err)
	}
	idx.cache.Add(workerID, activities)
	return activities, nil
}

// RecentActivity returns workerID's activities in the trailing window,
// sorted by timestamp ascending (spec §4.2).
func (idx *Index) RecentActivity(ctx context.Context, workerID string, window time.Duration) ([]types.WorkerActivity, error) {
	all, err := idx.load(ctx, workerID)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-window)
	out := make([]types.WorkerActivity, 0, len(all))
	for _, a := range all {
		if !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// TasksPerHour computes a simple hourly rate over the given activities'
// observed span, used by C3's pattern detector.
func TasksPerHour(activities []types.WorkerActivity) float64 {
	if len(activities) == 0 {
		return 0
	}
	span := activities[len(activities)-1].Timestamp.Sub(activities[0].Timestamp)
	if span <= 0 {
		// All in the same instant: treat as one hour's worth to avoid
		// dividing by zero while still reflecting a high rate.
		return float64(len(activities))
	}
	hours := span.Hours()
	if hours < 1.0/60 {
		hours = 1.0 / 60
	}
	return float64(len(activities)) / hours
}

// Intervals returns the inter-submission gaps between consecutive
// activities (already timestamp-ascending), used by C3's pattern detector
// to compute interval-uniqueness.
func Intervals(activities []types.WorkerActivity) []time.Duration {
	if len(activities) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(activities)-1)
	for i := 1; i < len(activities); i++ {
		out = append(out, activities[i].Timestamp.Sub(activities[i-1].Timestamp))
	}
	return out
}
