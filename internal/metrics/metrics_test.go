package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobQueued()
		m.JobStarted()
		m.JobDone()
		m.JobFinished("completed")
		m.StageDone("chunking", time.Millisecond)
		m.EmbedCall("ok")
		m.EmbedBatch(time.Millisecond)
		m.EmbedRetry()
		m.DimensionMismatch()
		m.Search("ok", time.Millisecond, 3)
		m.HTTPRequest("GET", "/healthz", "200", time.Millisecond)
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobQueued()
	m.JobQueued()
	m.JobStarted()
	m.JobFinished("failed")
	m.EmbedCall("error")
	m.EmbedCall("error")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestQueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestJobsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.embedCallsTotal.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
