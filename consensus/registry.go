// Package consensus implements C4: per-task-type submission validation and
// aggregation (majority/weighted/unanimous), plus confidence scoring
// (spec §4.4). Per the Design Notes, task-type polymorphism is a function
// table, never inheritance.
package consensus

import (
	"sort"
	"time"

	"github.com/dataparency-dev/verification-core/types"
)

// WeightedValue pairs one submission's decoded value with the weight its
// vote carries (1.0 for MAJORITY, the spec §4.4 formula for WEIGHTED) and
// its submission time, for earliest-wins tie-breaking.
type WeightedValue struct {
	Value     any
	Weight    float64
	Timestamp time.Time
}

// TypeHandler is the function table entry for one TaskType: format
// validation, decoding, canonical encoding, equality, aggregation, and
// per-submission accuracy estimation relative to the final consensus
// value (spec §4.4 step 2: "accuracy (strategy-provided)").
type TypeHandler interface {
	ValidateFormat(raw []byte) error
	Decode(raw []byte) (any, error)
	Encode(v any) ([]byte, error)
	Equal(a, b any) bool
	Aggregate(values []WeightedValue) (any, error)
	AccuracyOf(value any, consensus any) float64
}

// registry maps TaskType to its handler; populated by init() in each
// handler file so adding a task type never touches this file.
var registry = map[types.TaskType]TypeHandler{}

func register(taskType types.TaskType, h TypeHandler) {
	registry[taskType] = h
}

// HandlerFor looks up the registered handler for a task type.
func HandlerFor(taskType types.TaskType) (TypeHandler, bool) {
	h, ok := registry[taskType]
	return h, ok
}

// weightedPlurality picks the value with the highest total weight among
// equal values (per Equal), tie-broken by earliest timestamp among the
// winning group — the shared engine behind MAJORITY (weight 1 per vote)
// and WEIGHTED (spec-formula weight per vote) for every categorical task
// type (spec §4.4: "ties broken by earliest submission timestamp").
func weightedPlurality(values []WeightedValue, equal func(a, b any) bool) (any, error) {
	type group struct {
		value     any
		weight    float64
		earliest  time.Time
	}
	var groups []*group
	for _, v := range values {
		found := false
		for _, g := range groups {
			if equal(g.value, v.Value) {
				g.weight += v.Weight
				if v.Timestamp.Before(g.earliest) {
					g.earliest = v.Timestamp
				}
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, &group{value: v.Value, weight: v.Weight, earliest: v.Timestamp})
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].weight != groups[j].weight {
			return groups[i].weight > groups[j].weight
		}
		return groups[i].earliest.Before(groups[j].earliest)
	})

	return groups[0].value, nil
}

// weightedAverage computes a weighted mean over numeric values, used by
// every continuous task type (sentiment, translation quality, and as a
// building block for geolocation's 2D mean).
func weightedAverage(values []WeightedValue, extract func(any) float64) float64 {
	var sum, totalWeight float64
	for _, v := range values {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		sum += extract(v.Value) * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}
