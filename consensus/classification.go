package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/dataparency-dev/verification-core/types"
)

// ClassificationResult is the wire payload for every label-based task type:
// text classification, image classification, audio transcription (treated
// as a label over the transcript text), and video classification.
type ClassificationResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type classificationHandler struct{}

func (classificationHandler) ValidateFormat(raw []byte) error {
	var r ClassificationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	if r.Label == "" {
		return fmt.Errorf("%w: empty label", types.ErrInvalidSubmission)
	}
	return nil
}

func (classificationHandler) Decode(raw []byte) (any, error) {
	var r ClassificationResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSubmission, err)
	}
	return r, nil
}

func (classificationHandler) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (classificationHandler) Equal(a, b any) bool {
	ar, aok := a.(ClassificationResult)
	br, bok := b.(ClassificationResult)
	return aok && bok && ar.Label == br.Label
}

// Aggregate picks the plurality label (spec §4.4: "plurality vote"), then
// attaches the mean confidence of submissions that agreed with it (spec
// §4.4 image classification: "plurality vote with mean confidence").
func (h classificationHandler) Aggregate(values []WeightedValue) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no submissions to aggregate", types.ErrInsufficientSubmissions)
	}
	winner, err := weightedPlurality(values, h.Equal)
	if err != nil {
		return nil, err
	}
	winningLabel := winner.(ClassificationResult).Label

	var sum float64
	var n int
	for _, v := range values {
		cr := v.Value.(ClassificationResult)
		if cr.Label == winningLabel {
			sum += cr.Confidence
			n++
		}
	}
	meanConfidence := 0.0
	if n > 0 {
		meanConfidence = sum / float64(n)
	}
	return ClassificationResult{Label: winningLabel, Confidence: meanConfidence}, nil
}

func (classificationHandler) AccuracyOf(value, consensus any) float64 {
	v, ok1 := value.(ClassificationResult)
	c, ok2 := consensus.(ClassificationResult)
	if !ok1 || !ok2 {
		return 0
	}
	if v.Label == c.Label {
		return 1
	}
	return 0
}

func init() {
	h := classificationHandler{}
	register(types.TaskTypeTextClassification, h)
	register(types.TaskTypeImageClassification, h)
	register(types.TaskTypeAudioTranscription, h)
	register(types.TaskTypeVideoClassification, h)
}
