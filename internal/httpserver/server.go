// package httpserver exposes the operational surface of the emissary:
// a health probe, the archived-trace lookup, and a small consumer-side
// simulator (recorded messages in, queued remediation commands out) used
// when exercising the transports against a local endpoint.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/irisforge/emissary/internal/audit"
	"github.com/irisforge/emissary/internal/auth"
	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/schema"
	"github.com/irisforge/emissary/internal/tracectx"
)

const traceHeader = "X-Trace-ID"

type Server struct {
	store    audit.Store
	gate     *schema.Gate
	verifier *auth.Verifier
	logger   *slog.Logger

	mu       sync.Mutex
	received []*model.Message
	queued   []*model.RemediationCommand
}

func New(store audit.Store, gate *schema.Gate, verifier *auth.Verifier, logger *slog.Logger) *Server {
	return &Server{store: store, gate: gate, verifier: verifier, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.traceContext)

	r.Get("/health", s.handleHealth)
	r.Get("/traces/{traceID}", s.handleGetTrace)

	r.Post("/messages", s.handlePostMessage)
	r.Get("/commands", s.handleGetCommands)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Post("/commands", s.handlePostCommand)
	})

	return r
}

// traceContext installs a flow trace ID for the request. A valid incoming
// X-Trace-ID is adopted; anything else gets a fresh ID rather than a
// rejection. The effective ID is echoed back on the response.
func (s *Server) traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(traceHeader); incoming != "" {
			if withID, err := tracectx.Set(ctx, incoming); err == nil {
				ctx = withID
			} else {
				s.logger.Warn("ignoring malformed trace header", "header", incoming)
			}
		}
		ctx, id := tracectx.Ensure(ctx)
		w.Header().Set(traceHeader, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")
	wt, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		var verr *errdefs.ValidationError
		switch {
		case errors.Is(err, errdefs.ErrNotFound):
			respondError(w, http.StatusNotFound, "trace not found")
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, verr.Message)
		default:
			s.logger.Error("trace lookup failed", "error", err, tracectx.Attr(r.Context()))
			respondError(w, http.StatusInternalServerError, "trace lookup failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, wt)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.gate.ValidateMessage(r.Context(), raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, _ := json.Marshal(raw)
	var in model.Message
	if err := json.Unmarshal(data, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := model.NewMessage(r.Context(), in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()

	s.logger.Info("message recorded",
		"category", msg.Category,
		"severity", msg.Severity,
		tracectx.Attr(r.Context()))
	respondJSON(w, http.StatusAccepted, map[string]string{"trace_id": msg.TraceID})
}

func (s *Server) handlePostCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var buf json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&buf); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.gate.ValidateCommand(r.Context(), raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, err := model.ParseCommand(r.Context(), buf)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.queued = append(s.queued, cmd)
	s.mu.Unlock()

	s.logger.Info("command queued",
		"command_id", cmd.CommandID,
		"error_type", cmd.ErrorType,
		tracectx.Attr(r.Context()))
	respondJSON(w, http.StatusCreated, map[string]string{
		"command_id": cmd.CommandID.String(),
		"trace_id":   cmd.TraceID,
	})
}

// handleGetCommands drains the queue. Commands are handed out once, in the
// order they were posted, so two polling consumers never see the same one.
func (s *Server) handleGetCommands(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := s.queued
	s.queued = nil
	s.mu.Unlock()

	if out == nil {
		out = []*model.RemediationCommand{}
	}
	respondJSON(w, http.StatusOK, out)
}

// ReceivedMessages copies out the recorded messages, oldest first.
func (s *Server) ReceivedMessages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.received))
	copy(out, s.received)
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
