// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/common/validation"
	"plan-generator/internal/plan/history"
	"plan-generator/internal/plan/markdown"
	"plan-generator/internal/plan/store"
)

const (
	maxBodyBytes     = 64 << 10
	readinessTimeout = 2 * time.Second
	requestIDHeader  = "X-Request-ID"
)

var (
	userInputValidator   = validation.MustValidator(validation.UserInputSchema)
	phoneNumberValidator = validation.MustValidator(validation.PhoneNumberSchema)
)

// Sender delivers a plan to a phone number and returns the provider message id.
type Sender interface {
	SendPlan(ctx context.Context, phone, plan string) (string, error)
}

// HistoryReader lists recently finished generation cycles.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Option func(*Server)

func WithSender(s Sender) Option {
	return func(srv *Server) { srv.sender = s }
}

func WithHistory(h HistoryReader) Option {
	return func(srv *Server) { srv.history = h }
}

func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(srv *Server) { srv.checks[name] = check }
}

// Server exposes the plan store over HTTP.
type Server struct {
	store   *store.Store
	sender  Sender
	history HistoryReader
	checks  map[string]ReadinessCheck
	logger  logger.Logger
	mux     *http.ServeMux
}

func NewServer(st *store.Store, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		store:  st,
		checks: make(map[string]ReadinessCheck),
		logger: log,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/plan", s.handleGetPlan)
	s.mux.HandleFunc("DELETE /api/plan", s.handleClearPlan)
	s.mux.HandleFunc("PUT /api/plan/input", s.handleSetInput)
	s.mux.HandleFunc("PUT /api/plan/phone", s.handleSetPhone)
	s.mux.HandleFunc("POST /api/plan/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/plan/deliver", s.handleDeliver)
	s.mux.HandleFunc("GET /api/plan/history", s.handleHistory)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routed handler wrapped in request id and access logging.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withLogging(s.mux))
}

// ==========================
// Plan handlers
// ==========================

type planResponse struct {
	store.Snapshot
	FormattedPlan string `json:"formattedPlan"`
}

func (s *Server) planResponse() planResponse {
	snap := s.store.Snapshot()
	return planResponse{Snapshot: snap, FormattedPlan: markdown.Format(snap.GeneratedPlan)}
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.planResponse())
}

func (s *Server) handleClearPlan(w http.ResponseWriter, r *http.Request) {
	s.store.ClearPlan()
	writeJSON(w, http.StatusOK, s.planResponse())
}

func (s *Server) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserInput *string `json:"userInput"`
	}
	if !s.decode(w, r, userInputValidator, &body) {
		return
	}
	s.store.SetUserInput(deref(body.UserInput))
	writeJSON(w, http.StatusOK, s.planResponse())
}

func (s *Server) handleSetPhone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber *string `json:"phoneNumber"`
	}
	if !s.decode(w, r, phoneNumberValidator, &body) {
		return
	}
	s.store.SetPhoneNumber(deref(body.PhoneNumber))
	writeJSON(w, http.StatusOK, s.planResponse())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.GeneratePlan(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.planResponse())
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, "DELIVERY_DISABLED", "Plan delivery is not configured")
		return
	}
	messageID, err := s.sender.SendPlan(r.Context(), s.store.PhoneNumber(), s.store.GeneratedPlan())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"messageId": messageID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErrorBody(w, http.StatusServiceUnavailable, "HISTORY_DISABLED", "Generation history is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorBody(w, http.StatusBadRequest, string(apperrors.ErrCodeValidationFailed), "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// ==========================
// Health
// ==========================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", map[string]interface{}{"checks": failed})
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": failed,
			"time":   time.Now().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ==========================
// Encoding
// ==========================

// decode validates the body against v and unmarshals it into dst. It writes
// the error response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v *validation.Validator, dst interface{}) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorBody(w, http.StatusRequestEntityTooLarge, string(apperrors.ErrCodeValidationFailed), "request body too large")
			return false
		}
		writeErrorBody(w, http.StatusBadRequest, string(apperrors.ErrCodeValidationFailed), "could not read request body")
		return false
	}

	result, err := v.ValidateJSON(raw)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(apperrors.ErrCodeValidationFailed), "request body must be valid JSON")
		return false
	}
	if !result.Valid {
		writeErrorBody(w, http.StatusBadRequest, string(apperrors.ErrCodeValidationFailed),
			strings.Join(result.GetErrorMessages(), "; "))
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(apperrors.ErrCodeValidationFailed), "request body must be valid JSON")
		return false
	}
	return true
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := apperrors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":      r.URL.Path,
			"errorCode": string(stdErr.Code),
			"error":     err,
		})
	}
	writeErrorBody(w, status, string(stdErr.Code), stdErr.Message)
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed,
		apperrors.ErrCodeInvalidPhoneNumber,
		apperrors.ErrCodeNoPlanToDeliver:
		return http.StatusBadRequest
	case apperrors.ErrCodeGenerationSuperseded:
		return http.StatusConflict
	case apperrors.ErrCodeGenerationFailed,
		apperrors.ErrCodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ==========================
// Middleware
// ==========================

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			return
		}
		s.logger.Info("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  RequestID(r.Context()),
		})
	})
}
