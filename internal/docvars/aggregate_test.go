package docvars

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

func scoreMap(values ...float64) rulebook.ScoreMap {
	m := rulebook.Zero()
	for i, d := range rulebook.Dimensions() {
		if i < len(values) {
			m[d] = values[i]
		}
	}
	return m
}

// Fixture documents shared with the model regression test.
var (
	fixturePS = scoreMap(0.8, 0.2, 0.1, 0.0, 0.0, 0.2, 0.5, 0.4, 0.6)
	fixtureCR = scoreMap(0.3, 0.6, 0.3, 0.1, 0.0, 0.1, 0.3, 0.4, 0.7)
)

func TestAggregate_MaxPolicy(t *testing.T) {
	agg := NewAggregator(1.0)

	vars, err := agg.Aggregate(fixturePS, fixtureCR, nil)
	require.NoError(t, err)

	expected := map[string]float64{
		HeritageHarm:     0.8,
		DesignQuality:    0.6,
		AmenityHarm:      0.3,
		EcologyHarm:      0.1,
		GBHarm:           0.0,
		FloodRisk:        0.2,
		EconomicBenefit:  0.5,
		SocialBenefit:    0.4,
		PolicyCompliance: 0.7,
	}
	for name, want := range expected {
		assert.Equal(t, want, vars.Values[name], name)
	}
	assert.InDelta(t, 0.17777777777777778, vars.Values[SpinIndex], 1e-15)
	assert.Greater(t, vars.Values[SpinIndex], 0.0)
	assert.Len(t, vars.Values, 10)
	assert.Nil(t, vars.AppealScores)
}

func TestAggregate_MissingEvidence(t *testing.T) {
	agg := NewAggregator(1.0)

	tests := []struct {
		name string
		ps   rulebook.ScoreMap
		cr   rulebook.ScoreMap
		ap   rulebook.ScoreMap
	}{
		{name: "all absent"},
		{name: "only appeal", ap: scoreMap(0.5)},
		{name: "empty maps", ps: rulebook.ScoreMap{}, cr: rulebook.ScoreMap{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Aggregate(tt.ps, tt.cr, tt.ap)
			require.Error(t, err)

			var missing *MissingEvidenceError
			assert.True(t, errors.As(err, &missing))
		})
	}
}

func TestAggregate_SingleDocument(t *testing.T) {
	agg := NewAggregator(1.0)

	t.Run("planning statement only", func(t *testing.T) {
		vars, err := agg.Aggregate(fixturePS, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.8, vars.Values[HeritageHarm])
		assert.Equal(t, 0.0, vars.Values[SpinIndex])
	})

	t.Run("committee report only", func(t *testing.T) {
		vars, err := agg.Aggregate(nil, fixtureCR, nil)
		require.NoError(t, err)
		assert.Equal(t, 0.7, vars.Values[PolicyCompliance])
		assert.Equal(t, 0.0, vars.Values[SpinIndex])
	})
}

func TestAggregate_AppealCarriedThrough(t *testing.T) {
	agg := NewAggregator(1.0)
	ap := scoreMap(1, 1, 1, 1, 1, 1, 1, 1, 1)

	withAppeal, err := agg.Aggregate(fixturePS, fixtureCR, ap)
	require.NoError(t, err)
	without, err := agg.Aggregate(fixturePS, fixtureCR, nil)
	require.NoError(t, err)

	assert.Equal(t, without.Values, withAppeal.Values)
	assert.Equal(t, ap, withAppeal.AppealScores)

	// the carried map is a copy
	ap[rulebook.HeritageHarm] = 0
	assert.Equal(t, 1.0, withAppeal.AppealScores[rulebook.HeritageHarm])
}

func TestSpinIndex(t *testing.T) {
	agg := NewAggregator(1.0)

	t.Run("symmetric", func(t *testing.T) {
		assert.Equal(t, agg.SpinIndex(fixturePS, fixtureCR), agg.SpinIndex(fixtureCR, fixturePS))
	})

	t.Run("zero on agreement", func(t *testing.T) {
		assert.Equal(t, 0.0, agg.SpinIndex(fixturePS, fixturePS.Clone()))
	})

	t.Run("one at maximal disagreement", func(t *testing.T) {
		hi := scoreMap(1, 1, 1, 1, 1, 1, 1, 1, 1)
		assert.InDelta(t, 1.0, agg.SpinIndex(hi, rulebook.Zero()), 1e-12)
	})

	t.Run("scaled by max score", func(t *testing.T) {
		wide := NewAggregator(2.0)
		hi := scoreMap(2, 2, 2, 2, 2, 2, 2, 2, 2)
		assert.InDelta(t, 1.0, wide.SpinIndex(hi, rulebook.Zero()), 1e-12)
	})

	t.Run("monotonic in divergence", func(t *testing.T) {
		near := scoreMap(0.5)
		far := scoreMap(0.9)
		base := rulebook.Zero()
		assert.Less(t, agg.SpinIndex(near, base), agg.SpinIndex(far, base))
	})
}

func TestVariables_JSON(t *testing.T) {
	agg := NewAggregator(1.0)
	vars, err := agg.Aggregate(fixturePS, fixtureCR, scoreMap(0.2))
	require.NoError(t, err)

	data, err := json.Marshal(vars)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Contains(t, flat, AppealScoresKey)
	assert.Contains(t, flat, SpinIndex)

	var decoded Variables
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, vars.Values, decoded.Values)
	assert.Equal(t, vars.AppealScores, decoded.AppealScores)
}

func TestNames(t *testing.T) {
	names := Names()
	require.Len(t, names, 10)
	assert.Equal(t, HeritageHarm, names[0])
	assert.Equal(t, PolicyCompliance, names[8])
	assert.Equal(t, SpinIndex, names[9])

	v, ok := VariableFor(rulebook.FloodRisk)
	assert.True(t, ok)
	assert.Equal(t, FloodRisk, v)
}
