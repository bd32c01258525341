package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePage("merged", "", 1, 1200)
	m.ObservePage("skipped", "parse", 3, 900)
	m.ObservePage("skipped", "parse", 3, 0)
	m.AddTokens(100, 20, 50, 0)
	m.ObserveRun("complete", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pages.WithLabelValues("merged", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Pages.WithLabelValues("skipped", "parse")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.Tokens.WithLabelValues("cache_read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("complete")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Attempts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePage("merged", "", 1, 10)
		m.AddTokens(1, 1, 1, 1)
		m.ObserveRun("failed", time.Second)
	})
}

func TestNew_DuplicateRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
