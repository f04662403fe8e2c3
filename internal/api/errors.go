package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/games"
	"github.com/MJE43/dice-duel/internal/store"
)

// writeJSONError writes JSON error response
func writeJSONError(w http.ResponseWriter, data interface{}) error {
	return json.NewEncoder(w).Encode(data)
}

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
	cause     error
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	eb.cause = err
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   eb.context,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// errorMapping binds a sentinel to its HTTP status and error type. The first
// match wins, so more specific sentinels come first.
var errorMappings = []struct {
	target  error
	status  int
	errType string
}{
	{store.ErrNotFound, http.StatusNotFound, ErrTypeGameNotFound},
	{games.ErrInvalidBet, http.StatusUnprocessableEntity, ErrTypeInvalidBet},
	{games.ErrInvalidMask, http.StatusUnprocessableEntity, ErrTypeInvalidMask},
	{games.ErrDenomMismatch, http.StatusPaymentRequired, ErrTypeDenomMismatch},
	{games.ErrInsufficientStake, http.StatusPaymentRequired, ErrTypeInsufficientStake},
	{games.ErrIneligible, http.StatusForbidden, ErrTypeIneligible},
	{games.ErrNotAPlayer, http.StatusForbidden, ErrTypeNotAPlayer},
	{games.ErrWrongState, http.StatusConflict, ErrTypeWrongState},
	{games.ErrWrongTurn, http.StatusConflict, ErrTypeWrongTurn},
	{games.ErrAlreadyJoined, http.StatusConflict, ErrTypeAlreadyJoined},
	{games.ErrAlreadyRolled, http.StatusConflict, ErrTypeAlreadyRolled},
	{games.ErrNotFinished, http.StatusConflict, ErrTypeNotFinished},
	{store.ErrAlreadyExists, http.StatusConflict, ErrTypeConflict},
	{auth.ErrMissingToken, http.StatusUnauthorized, ErrTypeUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized, ErrTypeUnauthorized},
	{context.DeadlineExceeded, http.StatusRequestTimeout, ErrTypeTimeout},
}

// classifyError maps a service error to a status and error type.
// Unrecognised errors are internal.
func classifyError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.errType
		}
	}
	return http.StatusInternalServerError, ErrTypeInternal
}

// statusForType returns the status used for an error type.
func statusForType(errType string) int {
	for _, m := range errorMappings {
		if m.errType == errType {
			return m.status
		}
	}
	switch {
	case errType == ErrTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case GetErrorCategory(errType) == CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger         *log.Logger
	securityLogger *SecurityLogger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *log.Logger, securityLogger *SecurityLogger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		securityLogger: securityLogger,
	}
}

// HandleError processes an error and writes appropriate HTTP response
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	// Check if it's already an EngineError
	var engineErr EngineError
	if errors.As(err, &engineErr) {
		status := statusForType(engineErr.Type)
		if engineErr.RequestID == "" {
			engineErr.RequestID = requestID
		}
		eh.logError(r, engineErr, status)
		eh.writeErrorResponse(w, status, engineErr)
		return
	}

	status, errType := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
	}

	builder := NewError(errType, message).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if status == http.StatusInternalServerError {
		builder = builder.WithCause(err)
	}
	engineErr = builder.Build()

	eh.logError(r, engineErr, status)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(requestID).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	// Log security event for validation failure
	eh.securityLogger.LogSecurityEvent(
		requestID,
		"validation_failure",
		message,
		map[string]interface{}{
			"field": field,
			"path":  r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusBadRequest)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// HandleAuthError rejects a request without a valid bearer token
func (eh *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	engineErr := NewError(ErrTypeUnauthorized, err.Error()).
		WithRequestID(requestID).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.securityLogger.LogSecurityEvent(
		requestID,
		"auth_failure",
		err.Error(),
		map[string]interface{}{
			"path": r.URL.Path,
		},
		r.RemoteAddr,
	)

	eh.logError(r, engineErr, http.StatusUnauthorized)
	w.Header().Set("WWW-Authenticate", `Bearer realm="dice-duel"`)
	eh.writeErrorResponse(w, http.StatusUnauthorized, engineErr)
}

// logError logs the error with appropriate level and context
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)

	logLevel := "ERROR"
	if status < 500 {
		logLevel = "WARN"
	}

	eh.logger.Printf(
		"error_occurred level=%s type=%s category=%s status=%d request_id=%s method=%s path=%s message=%q context=%+v",
		logLevel, engineErr.Type, category, status, engineErr.RequestID, r.Method, r.URL.Path, engineErr.Message,
		eh.securityLogger.sanitizeContext(engineErr.Context),
	)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := writeJSONError(w, engineErr); err != nil {
		eh.logger.Printf("error_response_write_failed request_id=%s error=%v", engineErr.RequestID, err)
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Printf(
					"panic_recovered request_id=%s path=%s method=%s panic=%v",
					requestID, r.URL.Path, r.Method, rvr,
				)

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
