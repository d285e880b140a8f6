package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/yejinpRE/plan-checker/docs"
	"github.com/yejinpRE/plan-checker/internal/contextvars"
	apperrors "github.com/yejinpRE/plan-checker/internal/errors"
	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
	"github.com/yejinpRE/plan-checker/internal/repository"
	"github.com/yejinpRE/plan-checker/internal/rulebook"
	"github.com/yejinpRE/plan-checker/internal/types"
)

const topDrivers = 12

// setupRouter builds the gin engine. The cache sits inside compression so
// that it stores plain JSON bodies.
func setupRouter(s *server) *gin.Engine {
	r := gin.New()

	r.Use(s.compression.Handler())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger, s.cfg.MaxUploadBytes))

	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())

	r.Use(s.guard.CORS())
	r.Use(s.guard.HeadersMiddleware())
	r.Use(s.guard.RequestTimeout)
	r.Use(s.guard.ValidateContentType)
	r.Use(s.guard.LimitBody)
	r.Use(s.limiter.IPRateLimitMiddleware())

	r.Use(s.cache.Middleware(s.metrics, "/analyze", "/predict", "/documents/score"))

	r.GET("/health", s.handleHealth)
	r.GET("/model", s.handleModel)

	r.POST("/documents/score", s.handleScore)
	r.POST("/documents/upload", s.limiter.UploadRateLimitMiddleware(), s.handleUpload)
	r.POST("/context", s.handleContext)
	r.POST("/predict", s.handlePredict)
	r.POST("/analyze", s.handleAnalyze)

	r.GET("/repository", s.handleRepositoryList)
	r.GET("/repository/:case_id", s.handleRepositoryGet)
	r.DELETE("/repository", s.admin.Middleware(), s.handleRepositoryClear)
	r.POST("/repository/batch", s.limiter.UploadRateLimitMiddleware(), s.handleBatch)

	r.GET("/metrics", s.handleMetrics)
	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.cache.Stats())
	})
	r.GET("/ratelimit", s.limiter.HandleStatus())
	r.DELETE("/ratelimit/:ip", s.admin.Middleware(), s.limiter.HandleReset())

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// bindError turns a body decoding failure into a client error.
func bindError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return apperrors.NewValidationError("Invalid request body", err.Error())
}

// validateTexts rejects document texts the guard refuses.
func (s *server) validateTexts(req types.ScoreRequest) error {
	fields := map[string]string{}
	for name, text := range map[string]string{
		"ps_text": req.PSText,
		"cr_text": req.CRText,
		"ap_text": req.APText,
	} {
		if err := s.guard.ValidateText(name, text); err != nil {
			fields[name] = err.Error()
		}
	}
	if len(fields) > 0 {
		return apperrors.NewValidationErrorWithMap("Invalid document text", fields)
	}
	return nil
}

func (s *server) recordDocuments(docs pipeline.Documents) {
	for _, text := range []string{docs.PlanningStatement, docs.CommitteeReport, docs.AppealDecision} {
		if text != "" {
			s.metrics.RecordDocument(true)
		}
	}
}

// @Summary Liveness and artifact versions
// @Tags system
// @Produce json
// @Success 200 {object} types.HealthResponse
// @Router /health [get]
func (s *server) handleHealth(c *gin.Context) {
	status := "ok"
	if s.redis.IsEnabled() {
		if err := s.redis.HealthCheck(c.Request.Context()); err != nil {
			slog.Warn("Redis health check failed", "error", err)
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, types.HealthResponse{
		Status:         status,
		Timestamp:      time.Now(),
		ModelVersion:   s.analyzer.Model().Version(),
		LexiconVersion: s.analyzer.Rulebook().Version(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Version:        version,
	})
}

// @Summary Coefficient table, lexicon version and context defaults
// @Tags model
// @Produce json
// @Success 200 {object} types.ModelResponse
// @Router /model [get]
func (s *server) handleModel(c *gin.Context) {
	rb := s.analyzer.Rulebook()
	table := s.analyzer.Model().Table()

	c.JSON(http.StatusOK, types.ModelResponse{
		Model:           &table,
		LexiconVersion:  rb.Version(),
		LexiconRules:    rb.RuleCount(),
		MaxScore:        rb.MaxScore(),
		Dimensions:      rulebook.Dimensions(),
		ContextDefaults: contextvars.Defaults(),
	})
}

// @Summary Score document texts and aggregate X1-X10
// @Tags documents
// @Accept json
// @Produce json
// @Param request body types.ScoreRequest true "Document texts"
// @Success 200 {object} types.ScoreResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 422 {object} types.ErrorResponse
// @Router /documents/score [post]
func (s *server) handleScore(c *gin.Context) {
	var req types.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	if err := s.validateTexts(req); err != nil {
		c.Error(err)
		return
	}

	docs := req.Documents()
	scores, err := s.analyzer.ScoreDocuments(docs)
	if err != nil {
		c.Error(err)
		return
	}
	s.recordDocuments(docs)

	c.JSON(http.StatusOK, types.ScoreResponse{DocumentScores: scores})
}

// @Summary Extract and score uploaded documents
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param ps formData file false "Planning statement"
// @Param cr formData file false "Committee report"
// @Param ap formData file false "Appeal decision"
// @Success 200 {object} types.ScoreResponse
// @Failure 413 {object} types.ErrorResponse
// @Failure 422 {object} types.ErrorResponse
// @Router /documents/upload [post]
func (s *server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.Error(bindError(err))
		return
	}

	var docs pipeline.Documents
	extracted := map[string]bool{}

	for _, slot := range []struct {
		field string
		role  pipeline.Role
		dst   *string
	}{
		{"ps", pipeline.RolePlanningStatement, &docs.PlanningStatement},
		{"cr", pipeline.RoleCommitteeReport, &docs.CommitteeReport},
		{"ap", pipeline.RoleAppealDecision, &docs.AppealDecision},
	} {
		headers := form.File[slot.field]
		if len(headers) == 0 {
			continue
		}

		f, err := headers[0].Open()
		if err != nil {
			c.Error(apperrors.NewValidationError("Failed to read uploaded file", slot.field))
			return
		}
		text, ok := s.analyzer.Extract(slot.role, f)
		apperrors.SafeClose(f, slot.field)

		*slot.dst = text
		extracted[slot.field] = ok
		s.metrics.RecordDocument(ok)
	}

	scores, err := s.analyzer.ScoreDocuments(docs)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.ScoreResponse{DocumentScores: scores, Extracted: extracted})
}

// @Summary Validate context inputs and build X11-X16
// @Tags context
// @Accept json
// @Produce json
// @Param request body contextvars.Inputs true "Context inputs; absent fields take their defaults"
// @Success 200 {object} types.ContextResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /context [post]
func (s *server) handleContext(c *gin.Context) {
	in := contextvars.Defaults()
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		c.Error(bindError(err))
		return
	}

	vars, err := contextvars.Build(in)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.ContextResponse{ContextVariables: vars})
}

// @Summary Predict approval probability from a variable map
// @Tags model
// @Accept json
// @Produce json
// @Param request body types.PredictRequest true "Variables by name"
// @Success 200 {object} types.PredictResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /predict [post]
func (s *server) handlePredict(c *gin.Context) {
	var req types.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}

	if err := contextvars.CheckVariables(req.Variables); err != nil {
		c.Error(err)
		return
	}

	pred, err := s.analyzer.Model().Predict(req.Variables)
	if err != nil {
		// a caller-supplied map naming unknown variables is bad input here
		var unscored *model.UnscoredVariableError
		if errors.As(err, &unscored) {
			fields := make(map[string]string, len(unscored.Names))
			for _, name := range unscored.Names {
				fields[name] = "no coefficient in the loaded model"
			}
			c.Error(apperrors.NewValidationErrorWithMap("Unknown variables", fields))
			return
		}
		c.Error(err)
		return
	}
	s.metrics.RecordPrediction(string(pred.Rating))

	c.JSON(http.StatusOK, types.PredictResponse{
		Prediction: pred,
		TopDrivers: pred.TopDrivers(topDrivers),
	})
}

// @Summary Score documents, build context and predict in one call
// @Tags model
// @Accept json
// @Produce json
// @Param request body types.AnalyzeRequest true "Document texts and context inputs"
// @Success 200 {object} types.AnalyzeResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 422 {object} types.ErrorResponse
// @Failure 504 {object} types.ErrorResponse
// @Router /analyze [post]
func (s *server) handleAnalyze(c *gin.Context) {
	defaults := contextvars.Defaults()
	req := types.AnalyzeRequest{Context: &defaults}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	if err := s.validateTexts(req.ScoreRequest); err != nil {
		c.Error(err)
		return
	}

	docs := req.Documents()
	result, err := s.analyzer.Analyze(c.Request.Context(), docs, req.ContextInputs())
	if err != nil {
		c.Error(err)
		return
	}
	s.recordDocuments(docs)
	s.metrics.RecordPrediction(string(result.Prediction.Rating))

	c.JSON(http.StatusOK, types.AnalyzeResponse{
		Case:             result,
		ProcessingTimeMs: result.Duration.Milliseconds(),
	})
}

// @Summary List scored documents
// @Tags repository
// @Produce json
// @Param batch_id query string false "Only rows written by this batch"
// @Success 200 {object} types.RepositoryResponse
// @Router /repository [get]
func (s *server) handleRepositoryList(c *gin.Context) {
	var (
		entries []*repository.Entry
		err     error
	)
	if batchID := c.Query("batch_id"); batchID != "" {
		entries, err = s.repo.ListBatch(c.Request.Context(), batchID)
	} else {
		entries, err = s.repo.List(c.Request.Context())
	}
	if err != nil {
		c.Error(err)
		return
	}
	if entries == nil {
		entries = []*repository.Entry{}
	}

	c.JSON(http.StatusOK, types.RepositoryResponse{
		Columns: types.Columns(),
		Entries: entries,
		Count:   len(entries),
	})
}

// @Summary Get one scored document
// @Tags repository
// @Produce json
// @Param case_id path string true "Case id"
// @Success 200 {object} repository.Entry
// @Failure 404 {object} types.ErrorResponse
// @Router /repository/{case_id} [get]
func (s *server) handleRepositoryGet(c *gin.Context) {
	caseID := c.Param("case_id")
	entry, err := s.repo.Get(c.Request.Context(), caseID)
	if errors.Is(err, repository.ErrNotFound) {
		c.Error(apperrors.NewNotFoundError("case", caseID))
		return
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// @Summary Clear the repository
// @Tags repository
// @Produce json
// @Success 200 {object} types.ClearResponse
// @Failure 401 {object} types.ErrorResponse
// @Security BearerAuth
// @Router /repository [delete]
func (s *server) handleRepositoryClear(c *gin.Context) {
	removed, err := s.repo.Clear(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	slog.Info("Repository cleared", "removed", removed, "ip", c.ClientIP())
	c.JSON(http.StatusOK, types.ClearResponse{Removed: removed})
}

// @Summary Score many documents into the repository
// @Tags repository
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Documents; the file name is the case id"
// @Success 200 {object} types.BatchResponse
// @Failure 400 {object} types.ErrorResponse
// @Router /repository/batch [post]
func (s *server) handleBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.Error(bindError(err))
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		c.Error(apperrors.NewValidationError("At least one file is required", "files"))
		return
	}

	files := make([]pipeline.BatchFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, pipeline.BatchFile{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	result, err := s.runner.Run(c.Request.Context(), files)
	if err != nil {
		c.Error(err)
		return
	}

	s.metrics.IncrementBatchRuns()
	for i := 0; i < result.Extracted; i++ {
		s.metrics.RecordDocument(true)
	}
	for range result.Failed {
		s.metrics.RecordDocument(false)
	}

	c.JSON(http.StatusOK, types.BatchResponse{
		BatchResult:      result,
		ProcessingTimeMs: result.Duration.Milliseconds(),
	})
}

// @Summary Operational counters
// @Tags system
// @Produce json
// @Router /metrics [get]
func (s *server) handleMetrics(c *gin.Context) {
	s.metrics.CollectRuntime()

	rows, err := s.repo.Count(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests":    s.metrics.GetStats(),
		"compression": s.compression.GetStats(),
		"rate_limit":  s.limiter.GetStats(),
		"cache":       s.cache.Stats(),
		"repository": gin.H{
			"rows": rows,
			"pool": s.db.GetPoolStats(),
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
