// Package server exposes the chat surface over HTTP: POST /chat streams a
// conversation turn as server-sent events, GET /chat reports service status,
// and /healthz and /metrics serve operational plumbing.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/internal/sessions"
	"github.com/prismlabs/prism/pkg/models"
)

// Server wires the session manager to the HTTP surface.
type Server struct {
	cfg      *config.Config
	manager  *sessions.Manager
	gatherer prometheus.Gatherer
	log      *observability.Logger
	started  time.Time
}

// chatRequest is the POST /chat body.
type chatRequest struct {
	Message            string `json:"message"`
	SessionID          string `json:"sessionId"`
	ProjectPath        string `json:"projectPath"`
	UserMemory         string `json:"userMemory"`
	CustomInstructions string `json:"customInstructions"`
}

// New creates a server. gatherer backs /metrics; pass the registry the
// process metrics were registered on.
func New(cfg *config.Config, manager *sessions.Manager, gatherer prometheus.Gatherer, log *observability.Logger) *Server {
	return &Server{
		cfg:      cfg,
		manager:  manager,
		gatherer: gatherer,
		log:      log,
		started:  time.Now(),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/chat", s.handleStatus)
	r.Delete("/chat/{sessionID}", s.handleDelete)
	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// handleChat runs one conversation turn and streams its events. Request
// validation failures map to HTTP status codes; once the stream starts,
// errors travel inside the SSE body.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, models.ErrCodeValidation, "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, models.ErrCodeValidation, "message is required")
		return
	}
	if err := s.cfg.Validate(); err != nil {
		s.log.Error(r.Context(), "configuration invalid", "error", err)
		s.writeError(w, http.StatusInternalServerError, models.ErrCodeConfiguration, err.Error())
		return
	}

	projectRoot := req.ProjectPath
	if projectRoot == "" {
		projectRoot = "."
	}
	memory := req.UserMemory
	if req.CustomInstructions != "" {
		if memory != "" {
			memory += "\n\n"
		}
		memory += req.CustomInstructions
	}

	session, created, err := s.manager.CreateOrResume(req.SessionID, projectRoot, memory)
	if err != nil {
		s.log.Error(r.Context(), "session create failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "could not create session")
		return
	}
	s.log.Info(r.Context(), "chat request",
		"session_id", session.ID, "created", created, "project_root", projectRoot)

	stream := make(chan *models.StreamEvent, 32)
	if err := s.manager.AttachStream(session.ID, stream); err != nil {
		s.writeError(w, http.StatusConflict, models.ErrCodeValidation, err.Error())
		return
	}
	defer s.manager.DetachStream(session.ID)

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, err.Error())
		return
	}
	if err := sse.Send(models.ConnectedEvent(session.ID)); err != nil {
		return
	}

	// The run inherits the request context, so a client disconnect
	// cancels the in-flight turn.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.manager.ProcessMessage(r.Context(), session.ID, req.Message); err != nil {
			s.log.Error(r.Context(), "turn failed",
				"session_id", session.ID, "error", err)
		}
	}()

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				// Session was deleted out from under the stream.
				<-done
				return
			}
			if err := sse.Send(ev); err != nil {
				s.log.Debug(r.Context(), "client write failed", "session_id", session.ID, "error", err)
				<-done
				return
			}
			if ev.Terminal() {
				<-done
				return
			}
		case <-r.Context().Done():
			<-done
			return
		}
	}
}

// handleStatus reports service health and the live session population.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"details": map[string]any{
			"config": map[string]any{
				"provider":  s.cfg.Provider,
				"model":     s.cfg.Model,
				"maxTurns":  s.cfg.MaxTurns,
				"maxTokens": s.cfg.MaxTokens,
			},
			"service": map[string]any{
				"uptimeSeconds": int64(time.Since(s.started).Seconds()),
				"sessions":      stats,
			},
		},
	})
}

// handleDelete removes a session explicitly.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.manager.Get(id); err != nil {
		s.writeError(w, http.StatusNotFound, models.ErrCodeValidation, "unknown session")
		return
	}
	s.manager.Delete(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug(context.Background(), "response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": models.NewAgentError(code, message),
	})
}
