package consensus

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dataparency-dev/verification-core/types"
)

// ModerationResult carries a violation verdict plus the categories that
// justify it (spec §4.4: "majority vote with category filtering").
type ModerationResult struct {
	IsViolation bool     `json:"is_violation"`
	Categories  []string `json:"categories"`
}

type moderationHandler struct{}

func (moderationHandler) ValidateFormat(raw []byte) error {
	var r ModerationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return nil
}

func (moderationHandler) Decode(raw []byte) (any, error) {
	var r ModerationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (moderationHandler) Encode(v any) ([]byte, error) {
	r := v.(ModerationResult)
	cats := append([]string(nil), r.Categories...)
	sort.Strings(cats)
	return json.Marshal(ModerationResult{IsViolation: r.IsViolation, Categories: cats})
}

func (moderationHandler) Equal(a, b any) bool {
	ar, aok := a.(ModerationResult)
	br, bok := b.(ModerationResult)
	return aok && bok && ar.IsViolation == br.IsViolation && sameStringSet(ar.Categories, br.Categories)
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Aggregate first picks the majority IsViolation verdict by weight, then
// keeps only categories supported by more than half the weight among the
// submissions that agree with that verdict (spec §4.4 category filter).
func (moderationHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}

	var violationWeight, cleanWeight float64
	for _, v := range values {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		if v.Value.(ModerationResult).IsViolation {
			violationWeight += w
		} else {
			cleanWeight += w
		}
	}
	verdict := violationWeight > cleanWeight

	support := make(map[string]float64)
	var agreeingWeight float64
	for _, v := range values {
		mr := v.Value.(ModerationResult)
		if mr.IsViolation != verdict {
			continue
		}
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		agreeingWeight += w
		for _, c := range mr.Categories {
			support[c] += w
		}
	}

	var categories []string
	for c, w := range support {
		if w > agreeingWeight/2 {
			categories = append(categories, c)
		}
	}
	sort.Strings(categories)

	return ModerationResult{IsViolation: verdict, Categories: categories}, nil
}

func (moderationHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(ModerationResult)
	c, ok2 := consensus.(ModerationResult)
	if !ok1 || !ok2 {
		return 0
	}
	if v.IsViolation != c.IsViolation {
		return 0
	}
	if len(c.Categories) == 0 {
		return 1
	}
	cSet := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		cSet[cat] = struct{}{}
	}
	common := 0
	for _, cat := range v.Categories {
		if _, ok := cSet[cat]; ok {
			common++
		}
	}
	union := len(v.Categories) + len(c.Categories) - common
	if union == 0 {
		return 1
	}
	return float64(common) / float64(union)
}

func init() {
	register(types.TaskTypeContentModeration, moderationHandler{})
}
