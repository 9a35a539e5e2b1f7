package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the collectors updated by chat sessions. All methods accept a
// nil receiver so callers don't have to check whether metrics are enabled.
type Metrics struct {
	turns              prometheus.Counter
	generationFailures *prometheus.CounterVec
	retrievalFailures  prometheus.Counter
	generationSeconds  *prometheus.HistogramVec
	promptTokens       *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounter(prometheus.CounterOpts{
			Name: "llm_eval_turns_total",
			Help: "Number of comparison turns submitted",
		}),
		generationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_eval_generation_failures_total",
			Help: "Number of failed generations per model",
		}, []string{"model"}),
		retrievalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "llm_eval_retrieval_failures_total",
			Help: "Number of retrievals that failed and fell back to plain prompts",
		}),
		generationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_eval_generation_seconds",
			Help:    "Duration of generations per model",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"model"}),
		promptTokens: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_eval_prompt_tokens",
			Help:    "Approximate prompt size in tokens per model",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		}, []string{"model"}),
	}
}

// Turns is the submitted turns counter.
func (m *Metrics) Turns() prometheus.Counter {
	return m.turns
}

func (m *Metrics) TurnSubmitted() {
	if m == nil {
		return
	}
	m.turns.Inc()
}

func (m *Metrics) GenerationFailed(model string) {
	if m == nil {
		return
	}
	m.generationFailures.WithLabelValues(model).Inc()
}

func (m *Metrics) RetrievalFailed() {
	if m == nil {
		return
	}
	m.retrievalFailures.Inc()
}

func (m *Metrics) ObserveGeneration(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.generationSeconds.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) ObservePromptTokens(model string, n int) {
	if m == nil {
		return
	}
	m.promptTokens.WithLabelValues(model).Observe(float64(n))
}
