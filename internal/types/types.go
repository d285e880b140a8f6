package types

import (
	"time"

	"github.com/yejinpRE/plan-checker/internal/contextvars"
	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
	"github.com/yejinpRE/plan-checker/internal/repository"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
)

// ScoreRequest carries the texts of one case. Empty fields are absent documents.
type ScoreRequest struct {
	PSText string `json:"ps_text" example:"The proposal would cause substantial harm to the listed building."`
	CRText string `json:"cr_text" example:"Officers recommend refusal; the scheme conflicts with policy."`
	APText string `json:"ap_text"`
}

// Documents converts the request into pipeline documents.
func (r ScoreRequest) Documents() pipeline.Documents {
	return pipeline.Documents{
		PlanningStatement: r.PSText,
		CommitteeReport:   r.CRText,
		AppealDecision:    r.APText,
	}
}

// AnalyzeRequest is a full case: document texts plus context inputs.
// A missing context object selects the defaults.
type AnalyzeRequest struct {
	ScoreRequest
	Context *contextvars.Inputs `json:"context,omitempty"`
}

// ContextInputs returns the supplied context or the defaults.
func (r AnalyzeRequest) ContextInputs() contextvars.Inputs {
	if r.Context == nil {
		return contextvars.Defaults()
	}
	return *r.Context
}

// PredictRequest scores an explicit variable map.
type PredictRequest struct {
	Variables map[string]float64 `json:"variables" binding:"required"`
}

// ScoreResponse is returned by the document scoring endpoints.
type ScoreResponse struct {
	pipeline.DocumentScores
	Extracted map[string]bool `json:"extracted,omitempty"`
}

// ContextResponse is returned by the context endpoint.
type ContextResponse struct {
	ContextVariables contextvars.Variables `json:"context_variables"`
}

// AnalyzeResponse is the full case result.
type AnalyzeResponse struct {
	*pipeline.Case
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// PredictResponse wraps a prediction with its top drivers.
type PredictResponse struct {
	model.Prediction
	TopDrivers []model.Contribution `json:"top_drivers"`
}

// ModelResponse describes the loaded artifacts.
type ModelResponse struct {
	Model           *model.Table       `json:"model"`
	LexiconVersion  string             `json:"lexicon_version"`
	LexiconRules    int                `json:"lexicon_rules"`
	MaxScore        float64            `json:"max_score"`
	Dimensions      []string           `json:"dimensions"`
	ContextDefaults contextvars.Inputs `json:"context_defaults"`
}

// RepositoryResponse lists repository rows.
type RepositoryResponse struct {
	Columns []string            `json:"columns"`
	Entries []*repository.Entry `json:"entries"`
	Count   int                 `json:"count"`
}

// BatchResponse summarises a batch scoring run.
type BatchResponse struct {
	*pipeline.BatchResult
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// ClearResponse reports a repository clear.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	ModelVersion   string    `json:"model_version"`
	LexiconVersion string    `json:"lexicon_version"`
	Uptime         string    `json:"uptime"`
	Version        string    `json:"version"`
}

// ErrorResponse documents the error body written by the error middleware.
type ErrorResponse struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	HTTPStatus int               `json:"http_status"`
	Timestamp  string            `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Columns returns the repository table header: case id then one column per dimension.
func Columns() []string {
	return append([]string{"case_id"}, rulebook.Dimensions()...)
}
