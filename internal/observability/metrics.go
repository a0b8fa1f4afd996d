package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// Built on Prometheus, the metrics track:
//   - Turn processing volume and latency per tenant channel
//   - Model provider request performance and token consumption
//   - Tool execution outcomes (success, failed, blocked, duplicate)
//   - Context cache effectiveness and lock contention
//   - Escalations handed off to humans
type Metrics struct {
	// TurnCounter tracks processed turns.
	// Labels: channel (widget|email|api), outcome (ok|ended|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full-turn processing latency in seconds.
	// Labels: channel
	TurnDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	ProviderTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool-call attempts.
	// Labels: tool, status (success|failed|blocked|duplicate|contended)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// CacheCounter tracks context cache lookups.
	// Labels: result (hit|miss|error)
	CacheCounter *prometheus.CounterVec

	// LockContention counts single-flight lock acquisitions that failed
	// because another attempt held the lock.
	LockContention prometheus.Counter

	// EscalationCounter counts detected human handoffs.
	// Labels: reason
	EscalationCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (loop|provider|toolexec|cache|storage), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the
// default registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_turns_total",
				Help: "Total number of processed turns by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_turn_duration_seconds",
				Help:    "Duration of full turn processing in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"channel"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_provider_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_provider_requests_total",
				Help: "Total number of model provider requests by status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_tool_executions_total",
				Help: "Total number of tool-call attempts by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		CacheCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_context_cache_lookups_total",
				Help: "Total number of context cache lookups by result",
			},
			[]string{"result"},
		),

		LockContention: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "concierge_lock_contention_total",
				Help: "Total number of single-flight lock acquisitions lost to an in-flight attempt",
			},
		),

		EscalationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_escalations_total",
				Help: "Total number of detected human handoffs by reason",
			},
			[]string{"reason"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordTurn records the outcome and latency of one processed turn.
func (m *Metrics) RecordTurn(channel, outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(channel, outcome).Inc()
	m.TurnDuration.WithLabelValues(channel).Observe(durationSeconds)
}

// RecordProviderRequest records metrics for one model API request.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records the outcome and latency of a tool-call attempt.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordCacheLookup records a context cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheCounter.WithLabelValues(result).Inc()
}

// RecordLockContention counts a lock acquisition lost to another attempt.
func (m *Metrics) RecordLockContention() {
	m.LockContention.Inc()
}

// RecordEscalation counts a detected human handoff.
func (m *Metrics) RecordEscalation(reason string) {
	m.EscalationCounter.WithLabelValues(reason).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
