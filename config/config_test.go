package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/verification-core/config"
)

func TestFraudWeightsNormalized(t *testing.T) {
	w := config.FraudWeights{Time: 1, Pattern: 1, Network: 1, Content: 1}
	n := w.Normalized()
	assert.InDelta(t, 0.25, n.Time, 1e-9)
	assert.InDelta(t, 0.25, n.Pattern, 1e-9)
	assert.InDelta(t, 0.25, n.Network, 1e-9)
	assert.InDelta(t, 0.25, n.Content, 1e-9)
}

func TestFraudWeightsNormalizedZeroSumFallsBackToDefault(t *testing.T) {
	w := config.FraudWeights{}
	assert.Equal(t, config.DefaultFraudWeights(), w.Normalized())
}

func TestDefaultConfigMatchingWeightsSumToOne(t *testing.T) {
	cfg := config.Default()
	for name, w := range cfg.MatchingWeights {
		sum := w.Skill + w.Reputation + w.Availability + w.TaskHistory + w.Performance + w.LoadBalance
		assert.InDelta(t, 1.0, sum, 1e-6, "strategy %s weights must sum to 1", name)
	}
}

func TestDefaultConfigHasRequiredStrategies(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{"BALANCED", "SKILL_FOCUSED", "REPUTATION_FOCUSED", "PERFORMANCE_FOCUSED"} {
		_, ok := cfg.MatchingWeights[name]
		require.True(t, ok, "missing strategy %s", name)
	}
}
