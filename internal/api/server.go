// Package api exposes conversation sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "drivethru-orchestrator/internal/common/errors"
	"drivethru-orchestrator/internal/common/logger"
	"drivethru-orchestrator/internal/conversation/session"
)

// Sessions is the part of the session manager the API serves.
type Sessions interface {
	Start(ctx context.Context) session.TurnResult
	Turn(ctx context.Context, id string, in session.TurnInput) (session.TurnResult, error)
	Diagnostics(id string) (session.Diagnostics, error)
	Reset(id string) (session.Snapshot, error)
	End(id string) error
	Ticket(id string) (session.Ticket, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	sessions Sessions
	logger   logger.Logger
	checks   map[string]ReadinessCheck
}

func NewServer(sessions Sessions, log logger.Logger) *Server {
	return &Server{sessions: sessions, logger: log, checks: make(map[string]ReadinessCheck)}
}

// WithReadinessCheck adds a dependency to /ready.
func (s *Server) WithReadinessCheck(name string, check ReadinessCheck) *Server {
	s.checks[name] = check
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.startSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.endSession)
			r.Post("/turns", s.turn)
			r.Post("/reset", s.resetSession)
			r.Get("/ticket", s.ticket)
		})
	})
	return r
}

// ==========================
// Handlers
// ==========================

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.sessions.Start(r.Context()))
}

func (s *Server) turn(w http.ResponseWriter, r *http.Request) {
	var in session.TurnInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, apperrors.NewInvalidInputError("invalid json: "+err.Error()))
		return
	}

	out, err := s.sessions.Turn(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	d, err := s.sessions.Diagnostics(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Reset(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ticket(w http.ResponseWriter, r *http.Request) {
	t, err := s.sessions.Ticket(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ==========================
// Helpers
// ==========================

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		})
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	stdErr := apperrors.Normalize(err)
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"code":  string(stdErr.Code),
			"error": err.Error(),
		})
	}
	writeJSON(w, status, map[string]interface{}{
		"error":   stdErr.Code,
		"message": stdErr.Message,
		"details": stdErr.Details,
	})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeOrderNotAccepted, apperrors.ErrCodeSessionClosed:
		return http.StatusConflict
	case apperrors.ErrCodeTurnCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
