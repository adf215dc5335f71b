package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime metrics for sessions, turns, LLM calls, and tools.
//
// Collectors are registered against an injected registry so tests can spin up
// isolated instances without global registration collisions.
type Metrics struct {
	// ActiveSessions tracks the number of live sessions.
	ActiveSessions prometheus.Gauge

	// SessionsCreated counts sessions created since process start.
	SessionsCreated prometheus.Counter

	// SessionsEvicted counts sessions removed by the TTL sweep or cap.
	// Labels: reason (ttl|capacity|deleted)
	SessionsEvicted *prometheus.CounterVec

	// TurnsTotal counts agent loop turns.
	// Labels: outcome (completed|tool_calls|retried|failed|wasted)
	TurnsTotal *prometheus.CounterVec

	// LLMRequestDuration measures LLM streaming call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption.
	// Labels: provider, model, kind (input|output)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (completed|failed|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec
}

// NewMetrics creates the metric collectors and registers them on reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prism_sessions_active",
			Help: "Number of live sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prism_sessions_created_total",
			Help: "Sessions created since process start.",
		}),
		SessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_sessions_evicted_total",
			Help: "Sessions removed, by reason.",
		}, []string{"reason"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_agent_turns_total",
			Help: "Agent loop turns, by outcome.",
		}, []string{"outcome"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_llm_request_duration_seconds",
			Help:    "LLM streaming call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_llm_tokens_total",
			Help: "Token consumption, by kind.",
		}, []string{"provider", "model", "kind"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_tool_executions_total",
			Help: "Tool invocations, by status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsCreated,
		m.SessionsEvicted,
		m.TurnsTotal,
		m.LLMRequestDuration,
		m.LLMTokens,
		m.ToolExecutions,
		m.ToolDuration,
	)
	return m
}

// NewTestMetrics creates metrics on a private registry. Intended for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
