package contextvars

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Context variable names
const (
	HousingPressure   = "X11_Housing_Pressure"
	TBStatus          = "X12_TB_Status"
	PlanAge           = "X13_Plan_Age"
	CommitteeAttitude = "X14_Committee_Attitude"
	GBFlag            = "X15_GB_Flag"
	FloodzoneLevel    = "X16_Floodzone_Level"
)

// Names returns X11..X16 in order.
func Names() []string {
	return []string{HousingPressure, TBStatus, PlanAge, CommitteeAttitude, GBFlag, FloodzoneLevel}
}

// Inputs are the site and political context of a case.
type Inputs struct {
	HousingPressure   float64 `json:"housing_pressure" yaml:"housing_pressure" validate:"gte=0,lte=3"`
	TBStatus          int     `json:"tb_status" yaml:"tb_status" validate:"oneof=0 1 2"`
	PlanAge           int     `json:"plan_age" yaml:"plan_age" validate:"oneof=0 1 2"`
	CommitteeAttitude float64 `json:"committee_attitude" yaml:"committee_attitude" validate:"gte=0,lte=3"`
	GBFlag            int     `json:"gb_flag" yaml:"gb_flag" validate:"oneof=0 1"`
	FloodzoneLevel    int     `json:"floodzone_level" yaml:"floodzone_level" validate:"oneof=0 1 2 3"`
}

// Defaults returns a neutral mid-range context.
func Defaults() Inputs {
	return Inputs{
		HousingPressure:   1.5,
		TBStatus:          1,
		PlanAge:           1,
		CommitteeAttitude: 1.5,
		GBFlag:            0,
		FloodzoneLevel:    0,
	}
}

// Variables maps X11..X16 to their values.
type Variables map[string]float64

// Violation describes one field outside its permitted range.
type Violation struct {
	Field string      `json:"field"`
	Rule  string      `json:"rule"`
	Value interface{} `json:"value"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s=%v violates %s", v.Field, v.Value, v.Rule)
}

// InvalidContextError lists every input that failed validation.
type InvalidContextError struct {
	Violations []Violation
}

func (e *InvalidContextError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invalid context inputs: " + strings.Join(parts, "; ")
}

// Fields maps each offending field to the rule it violated.
func (e *InvalidContextError) Fields() map[string]string {
	out := make(map[string]string, len(e.Violations))
	for _, v := range e.Violations {
		out[v.Field] = v.Rule
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks every field and reports all violations at once.
func (in Inputs) Validate() error {
	err := getValidator().Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	violations := make([]Violation, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		violations = append(violations, Violation{
			Field: fe.Field(),
			Rule:  rule,
			Value: fe.Value(),
		})
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})
	return &InvalidContextError{Violations: violations}
}

// Build validates the inputs and maps them one-to-one onto X11..X16.
// Out-of-range values are rejected, never clamped.
func Build(in Inputs) (Variables, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	return Variables{
		HousingPressure:   in.HousingPressure,
		TBStatus:          float64(in.TBStatus),
		PlanAge:           float64(in.PlanAge),
		CommitteeAttitude: in.CommitteeAttitude,
		GBFlag:            float64(in.GBFlag),
		FloodzoneLevel:    float64(in.FloodzoneLevel),
	}, nil
}

// varRule is the validate tag of the Inputs field behind one variable.
type varRule struct {
	name     string
	tag      string
	discrete bool
}

// Inputs fields are declared in Names order.
var varRules = func() []varRule {
	t := reflect.TypeOf(Inputs{})
	names := Names()
	rules := make([]varRule, len(names))
	for i, name := range names {
		f := t.Field(i)
		rules[i] = varRule{name: name, tag: f.Tag.Get("validate"), discrete: f.Type.Kind() == reflect.Int}
	}
	return rules
}()

func (r varRule) allows(v float64) bool {
	if !r.discrete {
		return getValidator().Var(v, r.tag) == nil
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return false
	}
	return getValidator().Var(int(v), r.tag) == nil
}

// CheckVariables applies the Inputs ranges to whichever of X11..X16 appear
// in a raw variable map. Other keys are ignored. Discrete variables must
// also be whole numbers.
func CheckVariables(vars map[string]float64) error {
	var violations []Violation
	for _, r := range varRules {
		v, ok := vars[r.name]
		if !ok || r.allows(v) {
			continue
		}
		violations = append(violations, Violation{Field: r.name, Rule: r.tag, Value: v})
	}
	if len(violations) == 0 {
		return nil
	}
	return &InvalidContextError{Violations: violations}
}
