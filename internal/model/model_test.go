package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureVars is the combined variable map of the reference case: a heritage
// scheme with moderate spin between the two documents and default context.
func fixtureVars() map[string]float64 {
	return map[string]float64{
		"X1_Heritage_Harm":       0.8,
		"X2_Design_Quality":      0.6,
		"X3_Amenity_Harm":        0.3,
		"X4_Ecology_Harm":        0.1,
		"X5_GB_Harm":             0.0,
		"X6_Flood_Risk":          0.2,
		"X7_Economic_Benefit":    0.5,
		"X8_Social_Benefit":      0.4,
		"X9_Policy_Compliance":   0.7,
		"X10_Spin_Index":         0.17777777777777778,
		"X11_Housing_Pressure":   1.5,
		"X12_TB_Status":          1,
		"X13_Plan_Age":           1,
		"X14_Committee_Attitude": 1.5,
		"X15_GB_Flag":            0,
		"X16_Floodzone_Level":    0,
	}
}

func newDefaultModel(t *testing.T) *Model {
	t.Helper()
	m, err := Default()
	require.NoError(t, err)
	return m
}

func TestDefaultTable(t *testing.T) {
	m := newDefaultModel(t)
	table := m.Table()

	assert.Equal(t, "v1.0.0", m.Version())
	assert.Equal(t, -1.75, table.Intercept)
	assert.Equal(t, 0.66, table.Thresholds.Green)
	assert.Equal(t, 0.33, table.Thresholds.Red)
	require.Len(t, table.Variables, 16)
	require.Len(t, table.Interactions, 4)

	assert.Equal(t, Variable{Name: "X1_Heritage_Harm", Type: TypeDocument, Coefficient: -1.4}, table.Variables[0])
	assert.Equal(t, Variable{Name: "X16_Floodzone_Level", Type: TypeContext, Coefficient: -0.3}, table.Variables[15])
	assert.Equal(t, []string{"X12_TB_Status", "X11_Housing_Pressure"}, table.Interactions[3].Factors)

	// the returned table is a copy
	table.Variables[0].Coefficient = 99
	table.Interactions[0].Factors[0] = "changed"
	fresh := m.Table()
	assert.Equal(t, -1.4, fresh.Variables[0].Coefficient)
	assert.Equal(t, "X1_Heritage_Harm", fresh.Interactions[0].Factors[0])
}

func TestPredict_ReferenceCase(t *testing.T) {
	m := newDefaultModel(t)

	pred, err := m.Predict(fixtureVars())
	require.NoError(t, err)

	assert.InDelta(t, 0.35944444444444457, pred.LinearScore, 1e-12)
	assert.InDelta(t, 0.5889059430753253, pred.Probability, 1e-12)
	assert.Equal(t, RatingAmber, pred.Rating)
	assert.Equal(t, "v1.0.0", pred.ModelVersion)
	require.Len(t, pred.Contributions, 20)

	expectedTop := []struct {
		name         string
		contribution float64
	}{
		{"X1_Heritage_Harm", -1.12},
		{"X9_Policy_Compliance", 0.91},
		{"X14_Committee_Attitude", 0.6},
		{"X2_Design_Quality", 0.54},
		{"X11_Housing_Pressure", 0.525},
		{"X12_TB_Status", 0.45},
		{"Z4_TB_x_Housing", 0.3},
	}
	for i, want := range expectedTop {
		assert.Equal(t, want.name, pred.Contributions[i].Name)
		assert.InDelta(t, want.contribution, pred.Contributions[i].Contribution, 1e-12)
	}

	z4 := pred.Interactions["Z4_TB_x_Housing"]
	assert.Equal(t, 1.5, z4.Value)
	assert.Equal(t, "X12_TB_Status * X11_Housing_Pressure", z4.Formula)
	assert.Len(t, pred.Interactions, 4)
	assert.Equal(t, TypeInteraction, pred.Contributions[6].Type)
}

func TestPredict_ContributionsReconstructLinearScore(t *testing.T) {
	m := newDefaultModel(t)

	inputs := []map[string]float64{
		fixtureVars(),
		{},
		{"X1_Heritage_Harm": 1, "X15_GB_Flag": 1, "X5_GB_Harm": 1, "X16_Floodzone_Level": 3, "X6_Flood_Risk": 1},
		{"X9_Policy_Compliance": 1, "X11_Housing_Pressure": 3, "X12_TB_Status": 2, "X14_Committee_Attitude": 3},
	}

	for _, vars := range inputs {
		pred, err := m.Predict(vars)
		require.NoError(t, err)

		sum := m.Table().Intercept
		for _, c := range pred.Contributions {
			sum += c.Contribution
			assert.Equal(t, math.Abs(c.Contribution), c.AbsContribution)
		}
		assert.InDelta(t, pred.LinearScore, sum, 1e-9)
	}
}

func TestPredict_ContributionOrdering(t *testing.T) {
	m := newDefaultModel(t)

	pred, err := m.Predict(fixtureVars())
	require.NoError(t, err)

	for i := 1; i < len(pred.Contributions); i++ {
		assert.GreaterOrEqual(t, pred.Contributions[i-1].AbsContribution, pred.Contributions[i].AbsContribution)
	}

	// X3 (-0.3) and X7 (+0.3) tie on magnitude and keep table order
	idx := map[string]int{}
	for i, c := range pred.Contributions {
		idx[c.Name] = i
	}
	assert.Less(t, idx["X3_Amenity_Harm"], idx["X7_Economic_Benefit"])
}

func TestPredict_MissingVariablesReadAsZero(t *testing.T) {
	m := newDefaultModel(t)

	pred, err := m.Predict(map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, -1.75, pred.LinearScore)
	assert.Equal(t, RatingRed, pred.Rating)
	for _, term := range pred.Interactions {
		assert.Equal(t, 0.0, term.Value)
	}
}

func TestPredict_UnscoredVariables(t *testing.T) {
	m := newDefaultModel(t)

	vars := fixtureVars()
	vars["X99_Parking"] = 1
	vars["Appeal_Scores"] = 0

	_, err := m.Predict(vars)
	require.Error(t, err)

	var unscored *UnscoredVariableError
	require.True(t, errors.As(err, &unscored))
	assert.Equal(t, []string{"Appeal_Scores", "X99_Parking"}, unscored.Names)

	// interaction names are derived, never inputs
	_, err = m.Predict(map[string]float64{"Z1_Heritage_x_GB": 1})
	assert.True(t, errors.As(err, &unscored))
}

func TestPredict_NonFiniteValue(t *testing.T) {
	m := newDefaultModel(t)

	_, err := m.Predict(map[string]float64{"X1_Heritage_Harm": math.NaN()})
	var invalid *InvalidValueError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "X1_Heritage_Harm", invalid.Name)
}

func TestPredict_Overflow(t *testing.T) {
	m := newDefaultModel(t)

	tests := []struct {
		name string
		vars map[string]float64
		term string
	}{
		{
			name: "opposing huge contributions",
			vars: map[string]float64{"X1_Heritage_Harm": 1.7e308, "X9_Policy_Compliance": 1.7e308},
			term: "X1_Heritage_Harm",
		},
		{
			name: "single contribution past max float",
			vars: map[string]float64{"X1_Heritage_Harm": 1.7e308},
			term: "X1_Heritage_Harm",
		},
		{
			name: "finite contributions with infinite sum",
			vars: map[string]float64{"X1_Heritage_Harm": 1e308, "X5_GB_Harm": 1e308},
			term: LinearScoreTerm,
		},
		{
			name: "interaction product",
			vars: map[string]float64{"X1_Heritage_Harm": 1e200, "X15_GB_Flag": 1e200},
			term: "Z1_Heritage_x_GB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := m.Predict(tt.vars)
			require.Error(t, err)

			var overflow *OverflowError
			require.True(t, errors.As(err, &overflow))
			assert.Equal(t, tt.term, overflow.Term)
			assert.Equal(t, Prediction{}, pred)
		})
	}
}

func TestPredict_Deterministic(t *testing.T) {
	m := newDefaultModel(t)

	first, err := m.Predict(fixtureVars())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := m.Predict(fixtureVars())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRate(t *testing.T) {
	m := newDefaultModel(t)

	tests := []struct {
		p    float64
		want Rating
	}{
		{0.0, RatingRed},
		{math.Nextafter(0.33, 0), RatingRed},
		{0.33, RatingAmber},
		{0.5, RatingAmber},
		{math.Nextafter(0.66, 0), RatingAmber},
		{0.66, RatingGreen},
		{0.99, RatingGreen},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Rate(tt.p), "p=%v", tt.p)
	}
}

func TestLogistic(t *testing.T) {
	tests := []struct {
		name string
		x    float64
	}{
		{"zero", 0},
		{"moderate positive", 4},
		{"moderate negative", -4},
		{"large positive", 800},
		{"large negative", -800},
		{"max float", math.MaxFloat64},
		{"min float", -math.MaxFloat64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Logistic(tt.x)
			assert.Greater(t, p, 0.0)
			assert.Less(t, p, 1.0)
			assert.False(t, math.IsNaN(p))
		})
	}

	assert.Equal(t, 0.5, Logistic(0))
	assert.InDelta(t, 1.0, Logistic(4)+Logistic(-4), 1e-15)
	assert.Less(t, Logistic(-1), Logistic(1))
}

func TestCombine(t *testing.T) {
	doc := map[string]float64{"X1_Heritage_Harm": 0.5}
	ctx := map[string]float64{"X11_Housing_Pressure": 2}

	merged, err := Combine(doc, ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"X1_Heritage_Harm": 0.5, "X11_Housing_Pressure": 2}, merged)

	merged["X1_Heritage_Harm"] = 0
	assert.Equal(t, 0.5, doc["X1_Heritage_Harm"])

	_, err = Combine(doc, map[string]float64{"X1_Heritage_Harm": 0.1})
	var collision *KeyCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "X1_Heritage_Harm", collision.Key)
}

func TestTopDrivers(t *testing.T) {
	m := newDefaultModel(t)
	pred, err := m.Predict(fixtureVars())
	require.NoError(t, err)

	top := pred.TopDrivers(3)
	require.Len(t, top, 3)
	assert.Equal(t, "X1_Heritage_Harm", top[0].Name)

	top[0].Name = "changed"
	assert.Equal(t, "X1_Heritage_Harm", pred.Contributions[0].Name)

	assert.Len(t, pred.TopDrivers(100), 20)
	assert.Empty(t, pred.TopDrivers(0))
}

func TestTableValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *Table)
		wantErr string
	}{
		{"missing version", func(t *Table) { t.Version = "" }, "version is required"},
		{"infinite intercept", func(t *Table) { t.Intercept = math.Inf(-1) }, "intercept"},
		{"red above green", func(t *Table) { t.Thresholds.Red = 0.7 }, "must be below green"},
		{"red equals green", func(t *Table) { t.Thresholds.Red = 0.66 }, "must be below green"},
		{"threshold outside unit interval", func(t *Table) { t.Thresholds.Green = 1 }, "(0, 1)"},
		{"duplicate variable", func(t *Table) { t.Variables[1].Name = t.Variables[0].Name }, "duplicate name"},
		{"invalid type", func(t *Table) { t.Variables[0].Type = "appeal" }, "invalid type"},
		{"nan coefficient", func(t *Table) { t.Variables[2].Coefficient = math.NaN() }, "non-finite"},
		{"empty factors", func(t *Table) { t.Interactions[0].Factors = nil }, "no factors"},
		{"unknown factor", func(t *Table) { t.Interactions[1].Factors = []string{"X99"} }, "unknown variable"},
		{"interaction name clash", func(t *Table) { t.Interactions[0].Name = "X1_Heritage_Harm" }, "duplicate name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := DefaultTable()
			require.NoError(t, err)
			tt.mutate(table)

			err = table.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = New(table)
			assert.Error(t, err)
		})
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, defaultTableYAML, 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.NoError(t, table.Validate())

	_, err = LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseTable([]byte("variables: {"))
	assert.Error(t, err)
}
