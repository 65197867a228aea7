package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/dataparency-dev/verification-core/types"
)

// SentimentResult is a score in [-1, 1] (spec §4.4: sentiment analysis
// aggregates by averaging).
type SentimentResult struct {
	Score float64 `json:"score"`
}

type sentimentHandler struct{}

func (sentimentHandler) ValidateFormat(raw []byte) error {
	var r SentimentResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	if r.Score < -1 || r.Score > 1 {
		return fmt.Errorf("%w: sentiment score out of [-1,1]", types.ErrInvalidSubmission)
	}
	return nil
}

func (sentimentHandler) Decode(raw []byte) (any, error) {
	var r SentimentResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (sentimentHandler) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (sentimentHandler) Equal(a, b any) bool {
	ar, aok := a.(SentimentResult)
	br, bok := b.(SentimentResult)
	return aok && bok && ar.Score == br.Score
}

func (sentimentHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	avg := weightedAverage(values, func(v any) float64 { return v.(SentimentResult).Score })
	return SentimentResult{Score: avg}, nil
}

// AccuracyOf maps distance-from-consensus onto [0,1] over the full [-1,1]
// span, so a submission at the opposite pole scores 0.
func (sentimentHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(SentimentResult)
	c, ok2 := consensus.(SentimentResult)
	if !ok1 || !ok2 {
		return 0
	}
	d := v.Score - c.Score
	if d < 0 {
		d = -d
	}
	acc := 1 - d/2
	if acc < 0 {
		acc = 0
	}
	return acc
}

func init() {
	register(types.TaskTypeSentimentAnalysis, sentimentHandler{})
}
