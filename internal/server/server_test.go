package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prismlabs/prism/internal/agent"
	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/observability"
	"github.com/prismlabs/prism/internal/scheduler"
	"github.com/prismlabs/prism/internal/sessions"
	"github.com/prismlabs/prism/internal/tools"
	"github.com/prismlabs/prism/pkg/models"
)

// cannedProvider answers every completion with a fixed text response.
type cannedProvider struct {
	text string
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.Chunk, error) {
	ch := make(chan *agent.Chunk, 4)
	ch <- &agent.Chunk{Kind: agent.ChunkMessageStart, MessageID: "msg_1", InputTokens: 5}
	ch <- &agent.Chunk{Kind: agent.ChunkTextDelta, Text: p.text}
	ch <- &agent.Chunk{Kind: agent.ChunkBlockStop}
	ch <- &agent.Chunk{Kind: agent.ChunkMessageStop, OutputTokens: 2}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *sessions.Manager) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{
			Provider: "anthropic",
			APIKey:   "test-key",
			Model:    "test-model",
			MaxTurns: 5, MaxTokens: 256,
			Session: config.SessionConfig{MaxSessions: 10},
		}
	}
	log := observability.NewNopLogger()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	factory := func(projectRoot string) (*agent.Loop, error) {
		registry := tools.NewRegistry()
		sched := scheduler.New(registry, cfg.Tools, 0, log, metrics)
		return agent.NewLoop(&cannedProvider{text: "canned answer"}, sched, registry, cfg, log, metrics), nil
	}
	manager := sessions.NewManager(cfg, factory, func() string { return "system" }, log, metrics)
	t.Cleanup(manager.Close)

	return New(cfg, manager, reg, log), manager
}

// parseSSE decodes a `data: <json>` framed body into events.
func parseSSE(t *testing.T, body string) []*models.StreamEvent {
	t.Helper()
	var events []*models.StreamEvent
	for _, record := range strings.Split(body, "\n\n") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		if !strings.HasPrefix(record, "data: ") {
			t.Fatalf("malformed SSE record: %q", record)
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(record, "data: ")), &ev); err != nil {
			t.Fatalf("decode %q: %v", record, err)
		}
		events = append(events, &ev)
	}
	return events
}

func postChat(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatStreamsTurn(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	handler := srv.Handler()

	rec := postChat(t, handler, `{"message": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	want := []models.StreamEventType{
		models.EventConnected, models.EventThinking, models.EventResponse, models.EventComplete,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
		if ev.Data.SessionID == "" || ev.Data.Timestamp == 0 {
			t.Errorf("event %d missing session id or timestamp", i)
		}
	}

	final := events[len(events)-1]
	if final.Data.Message == nil || final.Data.Message.Text() != "canned answer" {
		t.Errorf("complete message = %+v", final.Data.Message)
	}
}

func TestChatResumesSession(t *testing.T) {
	srv, manager := newTestServer(t, nil)
	handler := srv.Handler()

	first := parseSSE(t, postChat(t, handler, `{"message": "one"}`).Body.String())
	id := first[0].Data.SessionID

	rec := postChat(t, handler, `{"message": "two", "sessionId": "`+id+`"}`)
	second := parseSSE(t, rec.Body.String())
	if second[0].Data.SessionID != id {
		t.Errorf("session id changed: %s -> %s", id, second[0].Data.SessionID)
	}

	session, err := manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	// Two turns: user+assistant per turn.
	if got := len(session.Messages()); got != 4 {
		t.Errorf("log = %d messages, want 4", got)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	handler := srv.Handler()

	for _, body := range []string{`{}`, `{"message": "   "}`, `not json`} {
		rec := postChat(t, handler, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
		var resp struct {
			Error *models.AgentError `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body %q: %v", body, err)
		}
		if resp.Error == nil || resp.Error.Code != models.ErrCodeValidation {
			t.Errorf("body %q: error = %+v", body, resp.Error)
		}
	}
}

func TestChatConfigFailureIsPreStream(t *testing.T) {
	cfg := &config.Config{
		Provider: "anthropic",
		Model:    "m", MaxTurns: 5, MaxTokens: 256,
		Session: config.SessionConfig{MaxSessions: 10},
	}
	srv, _ := newTestServer(t, cfg) // no API key
	rec := postChat(t, srv.Handler(), `{"message": "hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp struct {
		Error *models.AgentError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeConfiguration {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	handler := srv.Handler()

	postChat(t, handler, `{"message": "hello"}`)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Status  string `json:"status"`
		Details struct {
			Config struct {
				Provider string `json:"provider"`
				Model    string `json:"model"`
			} `json:"config"`
			Service struct {
				Sessions sessions.Stats `json:"sessions"`
			} `json:"service"`
		} `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Details.Config.Model != "test-model" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Details.Service.Sessions.Total != 1 {
		t.Errorf("sessions.Total = %d, want 1", resp.Details.Service.Sessions.Total)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, manager := newTestServer(t, nil)
	handler := srv.Handler()

	events := parseSSE(t, postChat(t, handler, `{"message": "hello"}`).Body.String())
	id := events[0].Data.SessionID

	req := httptest.NewRequest(http.MethodDelete, "/chat/"+id, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := manager.Get(id); err == nil {
		t.Error("session should be gone")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "prism_sessions_created_total") {
		t.Error("metrics output missing session counter")
	}
}

func TestClientDisconnectCancelsTurn(t *testing.T) {
	srv, manager := newTestServer(t, nil)
	handler := srv.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "hello"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	cancel() // client is gone before the stream starts
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after cancel")
	}

	// The session survives the disconnect and stays usable.
	if manager.Stats().Total != 1 {
		t.Errorf("sessions = %d, want 1", manager.Stats().Total)
	}
}
