// Package metrics holds the Prometheus instruments for ingestion runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingestion loop. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Pages by terminal outcome and failure stage ("" when merged).
	Pages *prometheus.CounterVec

	// LLM attempts per page, including retries.
	Attempts prometheus.Histogram

	// Prompt tokens sent per page.
	PromptTokens prometheus.Histogram

	// Runs by final status.
	Runs *prometheus.CounterVec

	// Wall time of a whole run.
	RunDuration prometheus.Histogram

	// Token usage by direction ("input", "output", "cache_read", "cache_write").
	Tokens *prometheus.CounterVec
}

// New registers all ingestion metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certstate_pages_total",
			Help: "Pages ingested by outcome and failure stage",
		}, []string{"outcome", "failure"}),

		Attempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certstate_llm_attempts",
			Help:    "LLM attempts needed per page",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),

		PromptTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certstate_prompt_tokens",
			Help:    "Estimated prompt tokens per page",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certstate_runs_total",
			Help: "Ingestion runs by final status",
		}, []string{"status"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certstate_run_duration_seconds",
			Help:    "Duration of full ingestion runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certstate_llm_tokens_total",
			Help: "LLM tokens consumed by direction",
		}, []string{"direction"}),
	}
}

// ObservePage records one finished page.
func (m *Metrics) ObservePage(outcome, failure string, attempts, promptTokens int) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(outcome, failure).Inc()
	if attempts > 0 {
		m.Attempts.Observe(float64(attempts))
	}
	if promptTokens > 0 {
		m.PromptTokens.Observe(float64(promptTokens))
	}
}

// AddTokens records token usage.
func (m *Metrics) AddTokens(input, output, cacheRead, cacheWrite int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(input))
	m.Tokens.WithLabelValues("output").Add(float64(output))
	m.Tokens.WithLabelValues("cache_read").Add(float64(cacheRead))
	m.Tokens.WithLabelValues("cache_write").Add(float64(cacheWrite))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}
