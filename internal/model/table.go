package model

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultTableYAML []byte

// VariableType tags where a variable comes from.
type VariableType string

const (
	TypeDocument    VariableType = "document"
	TypeContext     VariableType = "context"
	TypeInteraction VariableType = "interaction"
)

// Variable is one main-effect term of the model.
type Variable struct {
	Name        string       `yaml:"name" json:"name"`
	Type        VariableType `yaml:"type" json:"type"`
	Coefficient float64      `yaml:"coefficient" json:"coefficient"`
}

// Interaction is a product of two or more variables with its own coefficient.
type Interaction struct {
	Name        string   `yaml:"name" json:"name"`
	Formula     string   `yaml:"formula" json:"formula"`
	Factors     []string `yaml:"factors" json:"factors"`
	Coefficient float64  `yaml:"coefficient" json:"coefficient"`
}

// Thresholds split probabilities into ratings.
type Thresholds struct {
	Green float64 `yaml:"green" json:"green"`
	Red   float64 `yaml:"red" json:"red"`
}

// Table is a versioned coefficient table.
type Table struct {
	Version      string        `yaml:"version" json:"version"`
	Intercept    float64       `yaml:"intercept" json:"intercept"`
	Thresholds   Thresholds    `yaml:"thresholds" json:"thresholds"`
	Variables    []Variable    `yaml:"variables" json:"variables"`
	Interactions []Interaction `yaml:"interactions" json:"interactions"`
}

// DefaultTable returns the embedded v1.0.0 table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTableYAML)
}

// LoadTable reads a coefficient table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML coefficient table. It does not validate.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &t, nil
}

// Validate checks the table is complete and consistent.
func (t *Table) Validate() error {
	if t.Version == "" {
		return errors.New("model: version is required")
	}
	if !finite(t.Intercept) {
		return errors.New("model: intercept must be finite")
	}

	th := t.Thresholds
	if !(th.Red > 0 && th.Red < 1) || !(th.Green > 0 && th.Green < 1) {
		return fmt.Errorf("model: thresholds must lie in (0, 1), got red=%v green=%v", th.Red, th.Green)
	}
	if th.Red >= th.Green {
		return fmt.Errorf("model: red threshold %v must be below green threshold %v", th.Red, th.Green)
	}

	if len(t.Variables) == 0 {
		return errors.New("model: no variables defined")
	}

	names := make(map[string]struct{}, len(t.Variables)+len(t.Interactions))
	for _, v := range t.Variables {
		if v.Name == "" {
			return errors.New("model: variable with empty name")
		}
		if _, dup := names[v.Name]; dup {
			return fmt.Errorf("model: duplicate name %q", v.Name)
		}
		if v.Type != TypeDocument && v.Type != TypeContext {
			return fmt.Errorf("model: variable %q has invalid type %q", v.Name, v.Type)
		}
		if !finite(v.Coefficient) {
			return fmt.Errorf("model: variable %q has non-finite coefficient", v.Name)
		}
		names[v.Name] = struct{}{}
	}

	variables := make(map[string]struct{}, len(names))
	for n := range names {
		variables[n] = struct{}{}
	}

	for _, in := range t.Interactions {
		if in.Name == "" {
			return errors.New("model: interaction with empty name")
		}
		if _, dup := names[in.Name]; dup {
			return fmt.Errorf("model: duplicate name %q", in.Name)
		}
		if len(in.Factors) == 0 {
			return fmt.Errorf("model: interaction %q has no factors", in.Name)
		}
		for _, f := range in.Factors {
			if _, ok := variables[f]; !ok {
				return fmt.Errorf("model: interaction %q references unknown variable %q", in.Name, f)
			}
		}
		if !finite(in.Coefficient) {
			return fmt.Errorf("model: interaction %q has non-finite coefficient", in.Name)
		}
		names[in.Name] = struct{}{}
	}

	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
