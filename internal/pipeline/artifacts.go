package pipeline

import (
	"fmt"

	"github.com/yejinpRE/plan-checker/internal/extract"
	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// LoadRulebook compiles the lexicon at path, or the embedded one when path is empty.
func LoadRulebook(path string) (*rulebook.Rulebook, error) {
	if path == "" {
		return rulebook.Default()
	}
	lex, err := rulebook.LoadLexicon(path)
	if err != nil {
		return nil, err
	}
	rb, err := rulebook.New(lex)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return rb, nil
}

// LoadModel builds the model from the table at path, or the embedded one when path is empty.
func LoadModel(path string) (*model.Model, error) {
	if path == "" {
		return model.Default()
	}
	t, err := model.LoadTable(path)
	if err != nil {
		return nil, err
	}
	m, err := model.New(t)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// Load builds an Analyzer from artifact paths. Any artifact error is returned
// and nothing is partially loaded.
func Load(rulebookPath, modelPath string, maxBytes int64, logger *monitoring.Logger) (*Analyzer, error) {
	rb, err := LoadRulebook(rulebookPath)
	if err != nil {
		return nil, err
	}
	m, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	return NewAnalyzer(rb, m, extract.New(maxBytes), logger)
}
