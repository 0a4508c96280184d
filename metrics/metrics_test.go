package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetAllocatorBuffers("out", 4)
	m.SetPoolQueued("out", 3)
	m.IncAcquired("out")
	m.IncAcquired("out")
	m.IncReleased("out", "queued")
	m.IncDropped("out", "corrupted")
	m.IncSubmitRetries("in")
	m.ObserveDequeue("out", 10*time.Millisecond)

	require.Equal(t, 4.0, testutil.ToFloat64(m.AllocatorBuffers.WithLabelValues("out")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.PoolQueued.WithLabelValues("out")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.PoolAcquired.WithLabelValues("out")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PoolReleased.WithLabelValues("out", "queued")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PoolDropped.WithLabelValues("out", "corrupted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SubmitRetries.WithLabelValues("in")))
	require.Equal(t, 1, testutil.CollectAndCount(m.DequeueLatency))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetAllocatorBuffers("a", 1)
	m.SetPoolQueued("p", 1)
	m.IncAcquired("p")
	m.IncReleased("p", "generic")
	m.IncDropped("p", "eos")
	m.IncSubmitRetries("p")
	m.ObserveDequeue("p", time.Second)
}
