package consensus

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dataparency-dev/verification-core/types"
)

// EntityTuple is one recognized span (spec §4.4: entity recognition merges
// tuples "by agreement" rather than picking a single winning submission).
type EntityTuple struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

type EntityResult struct {
	Entities []EntityTuple `json:"entities"`
}

type entityHandler struct{}

func (entityHandler) ValidateFormat(raw []byte) error {
	var r EntityResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	for _, e := range r.Entities {
		if e.Start < 0 || e.End <= e.Start || e.Type == "" {
			return fmt.Errorf("%w: malformed entity span", types.ErrInvalidSubmission)
		}
	}
	return nil
}

func (entityHandler) Decode(raw []byte) (any, error) {
	var r EntityResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (entityHandler) Encode(v any) ([]byte, error) {
	r := v.(EntityResult)
	sorted := append([]EntityTuple(nil), r.Entities...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		if sorted[i].End != sorted[j].End {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Type < sorted[j].Type
	})
	return json.Marshal(EntityResult{Entities: sorted})
}

func entityKey(e EntityTuple) string {
	return fmt.Sprintf("%d:%d:%s", e.Start, e.End, e.Type)
}

func (entityHandler) Equal(a, b any) bool {
	ar, aok := a.(EntityResult)
	br, bok := b.(EntityResult)
	if !aok || !bok || len(ar.Entities) != len(br.Entities) {
		return false
	}
	aSet := make(map[string]struct{}, len(ar.Entities))
	for _, e := range ar.Entities {
		aSet[entityKey(e)] = struct{}{}
	}
	for _, e := range br.Entities {
		if _, ok := aSet[entityKey(e)]; !ok {
			return false
		}
	}
	return true
}

// Aggregate keeps every entity span whose total supporting weight exceeds
// half the total weight across submissions (spec §4.4: "merge by
// agreement" rather than whole-submission plurality).
func (entityHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	support := make(map[string]float64)
	example := make(map[string]EntityTuple)
	var totalWeight float64
	for _, v := range values {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		totalWeight += w
		for _, e := range v.Value.(EntityResult).Entities {
			k := entityKey(e)
			support[k] += w
			example[k] = e
		}
	}

	var kept []EntityTuple
	for k, w := range support {
		if w > totalWeight/2 {
			kept = append(kept, example[k])
		}
	}
	return EntityResult{Entities: kept}, nil
}

// AccuracyOf is the Jaccard overlap between a submission's spans and the
// merged consensus set.
func (entityHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(EntityResult)
	c, ok2 := consensus.(EntityResult)
	if !ok1 || !ok2 {
		return 0
	}
	if len(v.Entities) == 0 && len(c.Entities) == 0 {
		return 1
	}
	cSet := make(map[string]struct{}, len(c.Entities))
	for _, e := range c.Entities {
		cSet[entityKey(e)] = struct{}{}
	}
	common := 0
	for _, e := range v.Entities {
		if _, ok := cSet[entityKey(e)]; ok {
			common++
		}
	}
	union := len(v.Entities) + len(c.Entities) - common
	if union == 0 {
		return 0
	}
	return float64(common) / float64(union)
}

func init() {
	register(types.TaskTypeEntityRecognition, entityHandler{})
}
