package llm

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder emits usage records to slog and Prometheus.
type MetricsRecorder struct {
	requests *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetricsRecorder registers the router metrics on the given registerer.
func NewMetricsRecorder(reg prometheus.Registerer) *MetricsRecorder {
	m := &MetricsRecorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charterd",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Terminal LLM attempts by tier, provider, model, and outcome.",
		}, []string{"tier", "provider", "model", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "charterd",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"tier", "provider", "model", "direction"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "charterd",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of terminal LLM attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"tier", "provider", "outcome"}),
	}
	reg.MustRegister(m.requests, m.tokens, m.latency)
	return m
}

// Record implements UsageRecorder.
func (m *MetricsRecorder) Record(rec UsageRecord) {
	tier := string(rec.Tier)
	outcome := string(rec.Outcome)

	m.requests.WithLabelValues(tier, rec.Provider, rec.Model, outcome).Inc()
	if rec.InputTokens > 0 {
		m.tokens.WithLabelValues(tier, rec.Provider, rec.Model, "input").Add(float64(rec.InputTokens))
	}
	if rec.OutputTokens > 0 {
		m.tokens.WithLabelValues(tier, rec.Provider, rec.Model, "output").Add(float64(rec.OutputTokens))
	}
	m.latency.WithLabelValues(tier, rec.Provider, outcome).Observe(rec.Latency.Seconds())

	slog.Info("LLM usage",
		"tier", tier,
		"provider", rec.Provider,
		"model", rec.Model,
		"tokens_in", rec.InputTokens,
		"tokens_out", rec.OutputTokens,
		"latency_ms", rec.Latency.Milliseconds(),
		"outcome", outcome)
}

// NopRecorder discards usage records; used in tests.
type NopRecorder struct{}

// Record implements UsageRecorder.
func (NopRecorder) Record(UsageRecord) {}
