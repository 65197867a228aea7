package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/dataparency-dev/verification-core/types"
)

// TranslationQualityResult is a score in [0, 5].
type TranslationQualityResult struct {
	Score float64 `json:"score"`
}

type translationHandler struct{}

func (translationHandler) ValidateFormat(raw []byte) error {
	var r TranslationQualityResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	if r.Score < 0 || r.Score > 5 {
		return fmt.Errorf("%w: translation quality score out of [0,5]", types.ErrInvalidSubmission)
	}
	return nil
}

func (translationHandler) Decode(raw []byte) (any, error) {
	var r TranslationQualityResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (translationHandler) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (translationHandler) Equal(a, b any) bool {
	ar, aok := a.(TranslationQualityResult)
	br, bok := b.(TranslationQualityResult)
	return aok && bok && ar.Score == br.Score
}

func (translationHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	avg := weightedAverage(values, func(v any) float64 { return v.(TranslationQualityResult).Score })
	return TranslationQualityResult{Score: avg}, nil
}

func (translationHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(TranslationQualityResult)
	c, ok2 := consensus.(TranslationQualityResult)
	if !ok1 || !ok2 {
		return 0
	}
	d := v.Score - c.Score
	if d < 0 {
		d = -d
	}
	acc := 1 - d/5
	if acc < 0 {
		acc = 0
	}
	return acc
}

func init() {
	register(types.TaskTypeTranslationQuality, translationHandler{})
}
