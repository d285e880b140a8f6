package docvars

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// Document variable names. X1..X9 follow rulebook.Dimensions order.
const (
	HeritageHarm     = "X1_Heritage_Harm"
	DesignQuality    = "X2_Design_Quality"
	AmenityHarm      = "X3_Amenity_Harm"
	EcologyHarm      = "X4_Ecology_Harm"
	GBHarm           = "X5_GB_Harm"
	FloodRisk        = "X6_Flood_Risk"
	EconomicBenefit  = "X7_Economic_Benefit"
	SocialBenefit    = "X8_Social_Benefit"
	PolicyCompliance = "X9_Policy_Compliance"
	SpinIndex        = "X10_Spin_Index"

	// AppealScoresKey is reserved for the appeal decision's raw scores.
	AppealScoresKey = "Appeal_Scores"
)

var dimensionVariables = map[string]string{
	rulebook.HeritageHarm:     HeritageHarm,
	rulebook.DesignQuality:    DesignQuality,
	rulebook.AmenityHarm:      AmenityHarm,
	rulebook.EcologyHarm:      EcologyHarm,
	rulebook.GBHarm:           GBHarm,
	rulebook.FloodRisk:        FloodRisk,
	rulebook.EconomicBenefit:  EconomicBenefit,
	rulebook.SocialBenefit:    SocialBenefit,
	rulebook.PolicyCompliance: PolicyCompliance,
}

// Names returns X1..X10 in order.
func Names() []string {
	names := make([]string, 0, len(dimensionVariables)+1)
	for _, d := range rulebook.Dimensions() {
		names = append(names, dimensionVariables[d])
	}
	return append(names, SpinIndex)
}

// VariableFor returns the document variable fed by a rulebook dimension.
func VariableFor(dimension string) (string, bool) {
	v, ok := dimensionVariables[dimension]
	return v, ok
}

// MissingEvidenceError is returned when neither a planning statement nor a
// committee report was scored.
type MissingEvidenceError struct{}

func (e *MissingEvidenceError) Error() string {
	return "at least one of the planning statement or committee report is required"
}

// Variables is the document-variable map plus the appeal scores carried for display.
type Variables struct {
	Values       map[string]float64
	AppealScores rulebook.ScoreMap
}

// MarshalJSON flattens the variables into one object with the appeal scores
// under the reserved key.
func (v Variables) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.Values)+1)
	for k, val := range v.Values {
		out[k] = val
	}
	appeal := v.AppealScores
	if appeal == nil {
		appeal = rulebook.ScoreMap{}
	}
	out[AppealScoresKey] = appeal
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat form written by MarshalJSON.
func (v *Variables) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v.Values = make(map[string]float64, len(raw))
	v.AppealScores = nil
	for k, msg := range raw {
		if k == AppealScoresKey {
			var appeal rulebook.ScoreMap
			if err := json.Unmarshal(msg, &appeal); err != nil {
				return fmt.Errorf("invalid %s: %w", AppealScoresKey, err)
			}
			if len(appeal) > 0 {
				v.AppealScores = appeal
			}
			continue
		}
		var f float64
		if err := json.Unmarshal(msg, &f); err != nil {
			return fmt.Errorf("invalid value for %s: %w", k, err)
		}
		v.Values[k] = f
	}
	return nil
}

// Aggregator combines per-role score maps into document variables.
//
// Per-dimension policy is max(PS, CR): harms take the worst framing found in
// either document and benefits the best. The spin index is the mean absolute
// PS/CR difference over all dimensions, scaled by the rulebook maximum to [0, 1].
type Aggregator struct {
	maxScore float64
}

// NewAggregator creates an aggregator for scores bounded by maxScore.
func NewAggregator(maxScore float64) *Aggregator {
	if !(maxScore > 0) {
		maxScore = 1
	}
	return &Aggregator{maxScore: maxScore}
}

// Aggregate builds X1..X10. Absent maps are nil; AP is carried through for display.
func (a *Aggregator) Aggregate(ps, cr, ap rulebook.ScoreMap) (Variables, error) {
	if !ps.Present() && !cr.Present() {
		return Variables{}, &MissingEvidenceError{}
	}

	values := make(map[string]float64, len(dimensionVariables)+1)
	for _, d := range rulebook.Dimensions() {
		values[dimensionVariables[d]] = math.Max(ps[d], cr[d])
	}
	values[SpinIndex] = a.SpinIndex(ps, cr)

	return Variables{
		Values:       values,
		AppealScores: ap.Clone(),
	}, nil
}

// SpinIndex measures how far the applicant's framing diverges from the officer's.
// It is 0 when either document is absent.
func (a *Aggregator) SpinIndex(ps, cr rulebook.ScoreMap) float64 {
	if !ps.Present() || !cr.Present() {
		return 0
	}

	dims := rulebook.Dimensions()
	sum := 0.0
	for _, d := range dims {
		sum += math.Abs(ps[d] - cr[d])
	}

	spin := sum / float64(len(dims)) / a.maxScore
	if spin > 1 {
		spin = 1
	}
	return spin
}
