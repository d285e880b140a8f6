package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Rating is the traffic-light band of a probability.
type Rating string

const (
	RatingGreen Rating = "Green"
	RatingAmber Rating = "Amber"
	RatingRed   Rating = "Red"
)

// InteractionTerm is an evaluated interaction.
type InteractionTerm struct {
	Formula string  `json:"formula"`
	Value   float64 `json:"value"`
}

// Contribution is one term of the linear score.
type Contribution struct {
	Name            string       `json:"name"`
	Type            VariableType `json:"type"`
	Value           float64      `json:"value"`
	Coefficient     float64      `json:"coefficient"`
	Contribution    float64      `json:"contribution"`
	AbsContribution float64      `json:"abs_contribution"`
}

// Prediction is the full output of the model for one case.
type Prediction struct {
	Probability   float64                    `json:"probability"`
	LinearScore   float64                    `json:"linear_score"`
	Rating        Rating                     `json:"rating"`
	Interactions  map[string]InteractionTerm `json:"interactions"`
	Contributions []Contribution             `json:"contributions"`
	ModelVersion  string                     `json:"model_version"`
}

// TopDrivers returns the n largest contributions by magnitude.
func (p Prediction) TopDrivers(n int) []Contribution {
	if n <= 0 {
		return []Contribution{}
	}
	if n > len(p.Contributions) {
		n = len(p.Contributions)
	}
	out := make([]Contribution, n)
	copy(out, p.Contributions[:n])
	return out
}

// UnscoredVariableError is returned when the input carries variables the
// coefficient table does not know.
type UnscoredVariableError struct {
	Names []string
}

func (e *UnscoredVariableError) Error() string {
	return "no coefficient for variables: " + strings.Join(e.Names, ", ")
}

// InvalidValueError is returned for NaN or infinite variable values.
type InvalidValueError struct {
	Name  string
	Value float64
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("variable %s has non-finite value %v", e.Name, e.Value)
}

// LinearScoreTerm names the summed score in an OverflowError.
const LinearScoreTerm = "linear_score"

// OverflowError is returned when a contribution or the linear score leaves
// the float64 range even though every input was finite.
type OverflowError struct {
	Term string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("term %s overflows the linear score", e.Term)
}

// KeyCollisionError is returned when merged variable maps share a key.
type KeyCollisionError struct {
	Key string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("variable %s supplied more than once", e.Key)
}

// Combine merges variable maps into a fresh map. Keys must be disjoint.
func Combine(maps ...map[string]float64) (map[string]float64, error) {
	size := 0
	for _, m := range maps {
		size += len(m)
	}

	out := make(map[string]float64, size)
	for _, m := range maps {
		for k, v := range m {
			if _, dup := out[k]; dup {
				return nil, &KeyCollisionError{Key: k}
			}
			out[k] = v
		}
	}
	return out, nil
}

// Model is a validated, read-only coefficient table.
type Model struct {
	table *Table
	known map[string]struct{}
}

// New validates a table and prepares it for prediction.
func New(t *Table) (*Model, error) {
	if t == nil {
		return nil, errors.New("model: nil table")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(t.Variables))
	for _, v := range t.Variables {
		known[v.Name] = struct{}{}
	}
	return &Model{table: t, known: known}, nil
}

// Default builds the model from the embedded table.
func Default() (*Model, error) {
	t, err := DefaultTable()
	if err != nil {
		return nil, err
	}
	return New(t)
}

// Version returns the table version.
func (m *Model) Version() string { return m.table.Version }

// Table returns a copy of the coefficient table.
func (m *Model) Table() Table {
	t := *m.table
	t.Variables = append([]Variable(nil), m.table.Variables...)
	t.Interactions = make([]Interaction, len(m.table.Interactions))
	for i, in := range m.table.Interactions {
		in.Factors = append([]string(nil), in.Factors...)
		t.Interactions[i] = in
	}
	return t
}

// Rate maps a probability onto its band.
func (m *Model) Rate(p float64) Rating {
	switch {
	case p >= m.table.Thresholds.Green:
		return RatingGreen
	case p < m.table.Thresholds.Red:
		return RatingRed
	default:
		return RatingAmber
	}
}

// Predict scores a combined variable map. Table variables missing from vars
// read as zero; keys the table does not know are rejected.
func (m *Model) Predict(vars map[string]float64) (Prediction, error) {
	var unknown []string
	for k := range vars {
		if _, ok := m.known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Prediction{}, &UnscoredVariableError{Names: unknown}
	}

	t := m.table
	for _, v := range t.Variables {
		if x, ok := vars[v.Name]; ok && !finite(x) {
			return Prediction{}, &InvalidValueError{Name: v.Name, Value: x}
		}
	}

	contribs := make([]Contribution, 0, len(t.Variables)+len(t.Interactions))
	linear := t.Intercept

	for _, v := range t.Variables {
		x := vars[v.Name]
		// explicit conversion keeps the product from fusing with the sum
		c := float64(v.Coefficient * x)
		if !finite(c) {
			return Prediction{}, &OverflowError{Term: v.Name}
		}
		linear += c
		contribs = append(contribs, Contribution{
			Name:            v.Name,
			Type:            v.Type,
			Value:           x,
			Coefficient:     v.Coefficient,
			Contribution:    c,
			AbsContribution: math.Abs(c),
		})
	}

	interactions := make(map[string]InteractionTerm, len(t.Interactions))
	for _, in := range t.Interactions {
		x := 1.0
		for _, f := range in.Factors {
			x = float64(x * vars[f])
		}
		c := float64(in.Coefficient * x)
		if !finite(x) || !finite(c) {
			return Prediction{}, &OverflowError{Term: in.Name}
		}
		linear += c
		interactions[in.Name] = InteractionTerm{Formula: in.Formula, Value: x}
		contribs = append(contribs, Contribution{
			Name:            in.Name,
			Type:            TypeInteraction,
			Value:           x,
			Coefficient:     in.Coefficient,
			Contribution:    c,
			AbsContribution: math.Abs(c),
		})
	}

	if !finite(linear) {
		return Prediction{}, &OverflowError{Term: LinearScoreTerm}
	}

	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].AbsContribution > contribs[j].AbsContribution
	})

	p := Logistic(linear)
	return Prediction{
		Probability:   p,
		LinearScore:   linear,
		Rating:        m.Rate(p),
		Interactions:  interactions,
		Contributions: contribs,
		ModelVersion:  t.Version,
	}, nil
}

// Logistic is a numerically stable sigmoid whose result stays strictly
// inside (0, 1) for any finite input.
func Logistic(x float64) float64 {
	var p float64
	if x >= 0 {
		p = 1 / (1 + math.Exp(-x))
	} else {
		e := math.Exp(x)
		p = e / (1 + e)
	}

	if p <= 0 {
		return math.SmallestNonzeroFloat64
	}
	if p >= 1 {
		return math.Nextafter(1, 0)
	}
	return p
}
