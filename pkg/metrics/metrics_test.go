package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TurnSubmitted()
	m.TurnSubmitted()
	m.GenerationFailed("m2")
	m.RetrievalFailed()
	m.ObserveGeneration("m1", 1500*time.Millisecond)
	m.ObservePromptTokens("m1", 120)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationFailures.WithLabelValues("m2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrievalFailures))

	n, err := testutil.GatherAndCount(reg, "llm_eval_generation_seconds", "llm_eval_prompt_tokens")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.TurnSubmitted()
	m.GenerationFailed("m1")
	m.RetrievalFailed()
	m.ObserveGeneration("m1", time.Second)
	m.ObservePromptTokens("m1", 1)
}
