package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"

	"github.com/yejinpRE/plan-checker/internal/contextvars"
	"github.com/yejinpRE/plan-checker/internal/docvars"
	"github.com/yejinpRE/plan-checker/internal/model"
	"github.com/yejinpRE/plan-checker/internal/pipeline"
)

// ErrorCategory groups errors by how a caller should react to them.
type ErrorCategory string

const (
	CategoryValidation      ErrorCategory = "validation"
	CategoryMissingEvidence ErrorCategory = "missing_evidence"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryRateLimit       ErrorCategory = "rate_limit"
	CategoryInternal        ErrorCategory = "internal"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryNotFound        ErrorCategory = "not_found"
)

// errorCodes are the stable strings clients match on.
var errorCodes = map[ErrorCategory]string{
	CategoryValidation:      "VALIDATION_ERROR",
	CategoryMissingEvidence: "MISSING_EVIDENCE",
	CategoryTimeout:         "TIMEOUT_ERROR",
	CategoryRateLimit:       "RATE_LIMIT_EXCEEDED",
	CategoryInternal:        "INTERNAL_ERROR",
	CategoryConfiguration:   "CONFIGURATION_ERROR",
	CategoryNotFound:        "NOT_FOUND",
}

// AppError wraps an errbuilder error with HTTP context
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
	RequestID  string        `json:"request_id,omitempty"`
	StackTrace string        `json:"stack_trace,omitempty"`
}

// Code returns the client-facing error code.
func (e *AppError) Code() string {
	if code, ok := errorCodes[e.Category]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.ErrBuilder.Msg)
}

func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Response is the JSON body written for the error
func (e *AppError) Response() gin.H {
	body := gin.H{
		"error":       e.Error(),
		"message":     e.ErrBuilder.Msg,
		"category":    e.Category,
		"http_status": e.HTTPStatus,
		"timestamp":   e.Timestamp.Format(time.RFC3339),
	}
	if e.RequestID != "" {
		body["request_id"] = e.RequestID
	}
	if errs := e.ErrBuilder.Details.Errors; len(errs) > 0 {
		details := make(map[string]string, len(errs))
		for k, v := range errs {
			details[k] = fmt.Sprint(v)
		}
		body["details"] = details
	}
	if e.StackTrace != "" && gin.Mode() == gin.DebugMode {
		body["stack_trace"] = e.StackTrace
	}
	return body
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func invalidArgument() *errbuilder.ErrBuilder {
	return errbuilder.New().WithCode(errbuilder.CodeInvalidArgument)
}

// build finishes a coded builder with a message, optional details and cause.
func build(coded *errbuilder.ErrBuilder, msg string, details map[string]error, cause error) *errbuilder.ErrBuilder {
	b := coded.WithMsg(msg)
	if len(details) > 0 {
		m := errbuilder.ErrorMap{}
		for k, v := range details {
			m.Set(k, v)
		}
		b = b.WithDetails(errbuilder.NewErrDetails(m))
	}
	if cause != nil {
		b = b.WithCause(cause)
	}
	return b
}

// NewValidationError reports a malformed request. An optional detail value is
// attached under "validation_details".
func NewValidationError(message string, details ...interface{}) *AppError {
	var d map[string]error
	if len(details) > 0 {
		d = map[string]error{"validation_details": fmt.Errorf("%v", details[0])}
	}
	return NewAppError(build(invalidArgument(), message, d, nil), CategoryValidation, http.StatusBadRequest)
}

// NewValidationErrorWithMap creates a validation error with one detail per field
func NewValidationErrorWithMap(message string, fields map[string]string) *AppError {
	d := make(map[string]error, len(fields))
	for field, msg := range fields {
		d[field] = invalidArgument().WithMsg(msg)
	}
	return NewAppError(build(invalidArgument(), message, d, nil), CategoryValidation, http.StatusBadRequest)
}

func NewNotFoundError(resource, id string) *AppError {
	msg := fmt.Sprintf("%s %q not found", resource, id)
	return NewAppError(build(invalidArgument(), msg, nil, nil), CategoryNotFound, http.StatusNotFound)
}

func NewPayloadTooLargeError(limit int64, cause error) *AppError {
	msg := fmt.Sprintf("Request body exceeds %d bytes", limit)
	return NewAppError(build(invalidArgument(), msg, nil, cause), CategoryValidation, http.StatusRequestEntityTooLarge)
}

// NewInvalidContextError reports every context input outside its range
func NewInvalidContextError(err *contextvars.InvalidContextError) *AppError {
	fields := make(map[string]string, len(err.Violations))
	for _, v := range err.Violations {
		fields[v.Field] = v.String()
	}

	appErr := NewValidationErrorWithMap("Invalid context inputs", fields)
	appErr.ErrBuilder = appErr.ErrBuilder.WithCause(err)
	return appErr
}

// NewMissingEvidenceError reports a case with neither a planning statement nor a committee report
func NewMissingEvidenceError(err error) *AppError {
	b := build(invalidArgument(),
		"At least one of the planning statement or committee report is required", nil, err)
	return NewAppError(b, CategoryMissingEvidence, http.StatusUnprocessableEntity)
}

// NewUnscoredVariableError reports variables the coefficient table cannot score.
// It indicates a wiring fault rather than bad input.
func NewUnscoredVariableError(err *model.UnscoredVariableError) *AppError {
	names := append([]string(nil), err.Names...)
	sort.Strings(names)

	b := build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition),
		"Model has no coefficient for supplied variables",
		map[string]error{"unscored_variables": errors.New(strings.Join(names, ", "))}, err)
	return NewAppError(b, CategoryConfiguration, http.StatusInternalServerError)
}

func NewTimeoutError(message string, cause error) *AppError {
	b := build(errbuilder.New().WithCode(errbuilder.CodeDeadlineExceeded), message, nil, cause)
	return NewAppError(b, CategoryTimeout, http.StatusGatewayTimeout)
}

func NewRateLimitError(retryAfter string) *AppError {
	b := build(errbuilder.New().WithCode(errbuilder.CodeResourceExhausted), "Rate limit exceeded",
		map[string]error{"retry_after": errors.New(retryAfter)}, nil)
	return NewAppError(b, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewInternalError hides message from the response body's headline but keeps
// it in the details. Debug and test modes also capture a stack trace.
func NewInternalError(message string, cause error) *AppError {
	b := build(errbuilder.New().WithCode(errbuilder.CodeInternal), "Internal server error",
		map[string]error{"internal_details": errors.New(message)}, cause)
	appErr := NewAppError(b, CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}
	return appErr
}

// NewConfigurationError reports a broken lexicon, coefficient table or setting.
func NewConfigurationError(message string, cause error) *AppError {
	b := build(errbuilder.New().WithCode(errbuilder.CodeFailedPrecondition), "Configuration error",
		map[string]error{"config_details": errors.New(message)}, cause)
	return NewAppError(b, CategoryConfiguration, http.StatusInternalServerError)
}

// captureStackTrace captures a stack trace for debugging
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			appErr := ToAppError(c.Errors.Last().Err)
			appErr.RequestID = c.GetHeader("X-Request-ID")

			LogError(c, appErr)

			c.JSON(appErr.HTTPStatus, appErr.Response())
			return
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)
		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var missing *docvars.MissingEvidenceError
	if errors.As(err, &missing) {
		return NewMissingEvidenceError(err)
	}

	var invalidCtx *contextvars.InvalidContextError
	if errors.As(err, &invalidCtx) {
		return NewInvalidContextError(invalidCtx)
	}

	var unscored *model.UnscoredVariableError
	if errors.As(err, &unscored) {
		return NewUnscoredVariableError(unscored)
	}

	var invalidValue *model.InvalidValueError
	if errors.As(err, &invalidValue) {
		return NewValidationError(invalidValue.Error())
	}

	var overflow *model.OverflowError
	if errors.As(err, &overflow) {
		return NewValidationErrorWithMap("Variable values overflow the linear score",
			map[string]string{overflow.Term: overflow.Error()})
	}

	var collision *model.KeyCollisionError
	if errors.As(err, &collision) {
		return NewValidationError(collision.Error())
	}

	var duplicate *pipeline.DuplicateCaseError
	if errors.As(err, &duplicate) {
		return NewValidationErrorWithMap("Batch has duplicate case ids",
			map[string]string{duplicate.CaseID: duplicate.Error()})
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return NewPayloadTooLargeError(tooLarge.Limit, err)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	var ebErr *errbuilder.ErrBuilder
	if errors.As(err, &ebErr) {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetHeader("X-Request-ID"),
	)

	errorMsg := err.ErrBuilder.Msg
	errorDetails := err.ErrBuilder.Details

	switch err.Category {
	case CategoryValidation, CategoryMissingEvidence, CategoryRateLimit:
		if len(errorDetails.Errors) > 0 {
			logEntry.Warn(errorMsg, "details", errorDetails.Errors)
		} else {
			logEntry.Warn(errorMsg)
		}
	case CategoryTimeout:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(errorMsg, "cause", cause)
		} else {
			logEntry.Info(errorMsg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause)
		} else {
			logEntry.Error(errorMsg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	contextMsg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", contextMsg, err)
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}
