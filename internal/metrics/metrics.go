// Package metrics exposes prometheus collectors for the request pipeline.
// A nil *Metrics is a valid no-op receiver so callers never need to guard.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors updated by the orchestrator and cost engine.
type Metrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	cost     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry, or a private
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magi",
			Name:      "requests_total",
			Help:      "LLM requests started, by provider and model.",
		}, []string{"provider", "model"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magi",
			Name:      "request_errors_total",
			Help:      "Error events emitted, by provider and error code.",
		}, []string{"provider", "code"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magi",
			Name:      "tokens_total",
			Help:      "Tokens consumed, by provider, model, and direction.",
		}, []string{"provider", "model", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "magi",
			Name:      "cost_usd_total",
			Help:      "Accumulated cost in USD, by provider and model.",
		}, []string{"provider", "model"}),
	}
	reg.MustRegister(m.requests, m.errors, m.tokens, m.cost)
	return m
}

// RecordRequest counts a started request.
func (m *Metrics) RecordRequest(provider, model string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, model).Inc()
}

// RecordError counts an error event.
func (m *Metrics) RecordError(provider, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(provider, code).Inc()
}

// RecordUsage counts consumed tokens.
func (m *Metrics) RecordUsage(provider, model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.tokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordCost adds incremental request cost.
func (m *Metrics) RecordCost(provider, model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.cost.WithLabelValues(provider, model).Add(usd)
}
