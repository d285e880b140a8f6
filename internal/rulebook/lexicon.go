package rulebook

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dimension names, in canonical order. Every ScoreMap carries exactly these keys.
const (
	HeritageHarm     = "Heritage_Harm"
	DesignQuality    = "Design_Quality"
	AmenityHarm      = "Amenity_Harm"
	EcologyHarm      = "Ecology_Harm"
	GBHarm           = "GB_Harm"
	FloodRisk        = "Flood_Risk"
	EconomicBenefit  = "Economic_Benefit"
	SocialBenefit    = "Social_Benefit"
	PolicyCompliance = "Policy_Compliance"
)

var dimensions = []string{
	HeritageHarm,
	DesignQuality,
	AmenityHarm,
	EcologyHarm,
	GBHarm,
	FloodRisk,
	EconomicBenefit,
	SocialBenefit,
	PolicyCompliance,
}

// Dimensions returns the dimension names in canonical order.
func Dimensions() []string {
	return append([]string(nil), dimensions...)
}

//go:embed default_rulebook.yaml
var defaultLexicon []byte

// Rule is a single weighted phrase
type Rule struct {
	Pattern string  `yaml:"pattern" json:"pattern"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// Lexicon is the versioned rule table: dimension -> weighted phrases.
type Lexicon struct {
	Version    string            `yaml:"version" json:"version"`
	MaxScore   float64           `yaml:"max_score" json:"max_score"`
	Dimensions map[string][]Rule `yaml:"dimensions" json:"dimensions"`
}

// DefaultLexicon parses the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads a lexicon from a YAML file
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}

	return ParseLexicon(data)
}

// ParseLexicon decodes and validates a YAML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to decode lexicon: %w", err)
	}

	if err := lex.Validate(); err != nil {
		return nil, err
	}

	return &lex, nil
}

// Validate checks that the lexicon covers exactly the known dimensions and
// that every rule is usable.
func (l *Lexicon) Validate() error {
	if l.Version == "" {
		return fmt.Errorf("lexicon: version is required")
	}
	if !(l.MaxScore > 0) || math.IsInf(l.MaxScore, 0) {
		return fmt.Errorf("lexicon %s: max_score must be a positive finite number, got %v", l.Version, l.MaxScore)
	}

	known := make(map[string]bool, len(dimensions))
	for _, d := range dimensions {
		known[d] = true
		if _, ok := l.Dimensions[d]; !ok {
			return fmt.Errorf("lexicon %s: missing dimension %q", l.Version, d)
		}
	}

	for dim, rules := range l.Dimensions {
		if !known[dim] {
			return fmt.Errorf("lexicon %s: unknown dimension %q", l.Version, dim)
		}

		seen := make(map[string]bool, len(rules))
		for i, r := range rules {
			phrase := normalizePhrase(r.Pattern)
			if phrase == "" {
				return fmt.Errorf("lexicon %s: %s rule %d has an empty pattern", l.Version, dim, i)
			}
			if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
				return fmt.Errorf("lexicon %s: %s rule %q has a non-finite weight", l.Version, dim, r.Pattern)
			}
			if seen[phrase] {
				return fmt.Errorf("lexicon %s: %s has duplicate pattern %q", l.Version, dim, r.Pattern)
			}
			seen[phrase] = true
		}
	}

	return nil
}

// normalizePhrase lowercases a pattern and reduces it to single-space separated
// word tokens, using the same tokenisation as the scanner.
func normalizePhrase(pattern string) string {
	return strings.Join(tokenize(pattern), " ")
}
