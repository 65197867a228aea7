package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/dataparency-dev/verification-core/types"
)

// DuplicateResult is a boolean verdict: is the submitted item a duplicate
// of an existing one.
type DuplicateResult struct {
	IsDuplicate bool `json:"is_duplicate"`
}

type duplicateHandler struct{}

func (duplicateHandler) ValidateFormat(raw []byte) error {
	var r DuplicateResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return nil
}

func (duplicateHandler) Decode(raw []byte) (any, error) {
	var r DuplicateResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (duplicateHandler) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (duplicateHandler) Equal(a, b any) bool {
	ar, aok := a.(DuplicateResult)
	br, bok := b.(DuplicateResult)
	return aok && bok && ar.IsDuplicate == br.IsDuplicate
}

func (h duplicateHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	winner, err := weightedPlurality(values, h.Equal)
	if err != nil {
		return nil, err
	}
	return winner, nil
}

func (duplicateHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(DuplicateResult)
	c, ok2 := consensus.(DuplicateResult)
	if !ok1 || !ok2 {
		return 0
	}
	if v.IsDuplicate == c.IsDuplicate {
		return 1
	}
	return 0
}

func init() {
	register(types.TaskTypeDuplicateDetection, duplicateHandler{})
}
