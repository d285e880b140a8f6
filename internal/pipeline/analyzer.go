package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/yejinpRE/plan-checker/internal/contextvars"
	"github.com/yejinpRE/plan-checker/internal/docvars"
	"github.com/yejinpRE/plan-checker/internal/extract"
	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// Role identifies which document of a case a text belongs to.
type Role string

const (
	RolePlanningStatement Role = "planning_statement"
	RoleCommitteeReport   Role = "committee_report"
	RoleAppealDecision    Role = "appeal_decision"
)

// Documents holds the extracted texts of one case. Empty means absent.
type Documents struct {
	PlanningStatement string `json:"ps_text"`
	CommitteeReport   string `json:"cr_text"`
	AppealDecision    string `json:"ap_text"`
}

// DocumentScores are the per-document score maps and the aggregated variables.
type DocumentScores struct {
	PlanningStatement rulebook.ScoreMap `json:"ps_scores"`
	CommitteeReport   rulebook.ScoreMap `json:"cr_scores"`
	AppealDecision    rulebook.ScoreMap `json:"ap_scores"`
	Variables         docvars.Variables `json:"document_variables"`
}

// Case is the complete result for one planning application.
type Case struct {
	Documents  DocumentScores        `json:"documents"`
	Context    contextvars.Variables `json:"context_variables"`
	Prediction model.Prediction      `json:"prediction"`
	Duration   time.Duration         `json:"-"`
}

// Analyzer runs the scoring stages for a case. It holds only read-only
// components and is safe for concurrent use.
type Analyzer struct {
	rulebook   *rulebook.Rulebook
	aggregator *docvars.Aggregator
	model      *model.Model
	extractor  *extract.Extractor
	logger     *monitoring.Logger
}

// NewAnalyzer wires the stages together. A nil extractor uses the default limit.
func NewAnalyzer(rb *rulebook.Rulebook, m *model.Model, ex *extract.Extractor, logger *monitoring.Logger) (*Analyzer, error) {
	if rb == nil || m == nil {
		return nil, errors.New("pipeline: rulebook and model are required")
	}
	if ex == nil {
		ex = extract.New(0)
	}
	return &Analyzer{
		rulebook:   rb,
		aggregator: docvars.NewAggregator(rb.MaxScore()),
		model:      m,
		extractor:  ex,
		logger:     logger,
	}, nil
}

// Rulebook returns the compiled rulebook.
func (a *Analyzer) Rulebook() *rulebook.Rulebook { return a.rulebook }

// Model returns the prediction model.
func (a *Analyzer) Model() *model.Model { return a.model }

// Extractor returns the document extractor.
func (a *Analyzer) Extractor() *extract.Extractor { return a.extractor }

// Extract reads an uploaded document. Failures degrade to an absent document.
func (a *Analyzer) Extract(role Role, r io.Reader) (string, bool) {
	text, res, ok := a.extractor.ExtractDetailed(r)
	if a.logger != nil {
		a.logger.ExtractionLogger(string(role), res.MIME, ok, len(text), res.Reason)
	}
	return text, ok
}

// ScoreText scores one document. Blank text is an absent document and yields nil.
func (a *Analyzer) ScoreText(text string) rulebook.ScoreMap {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return a.rulebook.Score(text)
}

// ScoreDocuments scores the three documents and aggregates X1..X10.
func (a *Analyzer) ScoreDocuments(docs Documents) (DocumentScores, error) {
	scores := DocumentScores{
		PlanningStatement: a.ScoreText(docs.PlanningStatement),
		CommitteeReport:   a.ScoreText(docs.CommitteeReport),
		AppealDecision:    a.ScoreText(docs.AppealDecision),
	}

	vars, err := a.aggregator.Aggregate(scores.PlanningStatement, scores.CommitteeReport, scores.AppealDecision)
	if err != nil {
		return DocumentScores{}, err
	}
	scores.Variables = vars
	return scores, nil
}

// Predict merges document and context variables and runs the model.
func (a *Analyzer) Predict(doc docvars.Variables, ctxVars contextvars.Variables) (model.Prediction, error) {
	vars, err := model.Combine(doc.Values, ctxVars)
	if err != nil {
		return model.Prediction{}, err
	}
	return a.model.Predict(vars)
}

// Analyze runs the whole case. No partial result is returned on error.
func (a *Analyzer) Analyze(ctx context.Context, docs Documents, in contextvars.Inputs) (*Case, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores, err := a.ScoreDocuments(docs)
	if err != nil {
		return nil, err
	}

	ctxVars, err := contextvars.Build(in)
	if err != nil {
		return nil, err
	}

	pred, err := a.Predict(scores.Variables, ctxVars)
	if err != nil {
		return nil, err
	}

	c := &Case{
		Documents:  scores,
		Context:    ctxVars,
		Prediction: pred,
		Duration:   time.Since(start),
	}

	if a.logger != nil {
		top := ""
		if drivers := pred.TopDrivers(1); len(drivers) > 0 {
			top = drivers[0].Name
		}
		a.logger.PredictionLogger(pred.ModelVersion, pred.Probability, string(pred.Rating), top, c.Duration, false)
	}

	return c, nil
}
