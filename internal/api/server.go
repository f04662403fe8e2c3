package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/dice-duel/internal/auth"
	"github.com/MJE43/dice-duel/internal/events"
	"github.com/MJE43/dice-duel/internal/table"
)

// Options configures a Server.
type Options struct {
	Verifier      *auth.Verifier
	Hub           *events.Hub
	AllowOrigins  []string
	Timeout       time.Duration
	DenomExponent int32
}

// Server handles HTTP requests
type Server struct {
	svc            *table.Service
	opts           Options
	format         Formatter
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(svc *table.Service, opts Options) *Server {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	securityLogger := NewSecurityLogger()

	return &Server{
		svc:            svc,
		opts:           opts,
		format:         NewFormatter(opts.DenomExponent),
		errorHandler:   NewErrorHandler(logger, securityLogger),
		logger:         logger,
		securityLogger: securityLogger,
		startTime:      time.Now(),
	}
}

// SecurityLogger exposes the audit logger for startup and shutdown events.
func (s *Server) SecurityLogger() *SecurityLogger {
	return s.securityLogger
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.SecurityLoggingMiddleware)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.CORSMiddleware)

	// Health and monitoring endpoints
	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived event stream, outside the request timeout
		r.Get("/games/{id}/events", s.handleGameEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.Timeout))

			r.Get("/games", s.handleListGames)
			r.Get("/games/{id}", s.handleGetGame)
			r.Get("/settlements", s.handleListSettlements)
			r.Post("/verify", s.handleVerify)

			r.Group(func(r chi.Router) {
				r.Use(s.AuthMiddleware)
				r.Post("/games", s.handleCreateGame)
				r.Post("/games/{id}/join", s.handleJoinGame)
				r.Post("/games/{id}/roll", s.handleRoll)
				r.Post("/games/{id}/reroll", s.handleReRoll)
				r.Post("/games/{id}/end", s.handleEndGame)
				r.Post("/payouts/retry", s.handleRetryPayouts)
			})
		})
	})

	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Printf("response_write_failed status=%d error=%v", status, err)
	}
}

// fail routes request validation failures and service errors to the
// error handler.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var fe *fieldError
	if errors.As(err, &fe) {
		s.errorHandler.HandleValidationError(w, r, fe.Field, fe.Message)
		return
	}
	s.errorHandler.HandleError(w, r, err)
}

// decodeJSON reads a JSON body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("body", "invalid JSON format: %v", err)
	}
	return nil
}
