// metrics.go defines the prometheus collectors of the buffer management core.

// Package metrics exposes the state of allocators, pools and sessions as
// prometheus metrics. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AllocatorBuffers *prometheus.GaugeVec
	PoolQueued       *prometheus.GaugeVec
	PoolAcquired     *prometheus.CounterVec
	PoolReleased     *prometheus.CounterVec
	PoolDropped      *prometheus.CounterVec
	SubmitRetries    *prometheus.CounterVec
	DequeueLatency   *prometheus.HistogramVec
}

// New registers the collectors in the given registerer
// (prometheus.DefaultRegisterer if nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AllocatorBuffers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mpp_allocator_buffers",
				Help: "Amount of hardware buffers tracked by the allocator",
			},
			[]string{"allocator"},
		),
		PoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mpp_pool_queued_buffers",
				Help: "Amount of buffers handed over to the hardware",
			},
			[]string{"pool"},
		),
		PoolAcquired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpp_pool_acquired_total",
				Help: "Total amount of buffers acquired from the pool",
			},
			[]string{"pool"},
		),
		PoolReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpp_pool_released_total",
				Help: "Total amount of buffers released into the pool",
			},
			[]string{"pool", "path"},
		),
		PoolDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpp_pool_dropped_total",
				Help: "Total amount of decoded buffers dropped instead of being forwarded",
			},
			[]string{"pool", "reason"},
		),
		SubmitRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpp_submit_busy_retries_total",
				Help: "Total amount of packet submissions retried because the hardware was busy",
			},
			[]string{"pool"},
		),
		DequeueLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mpp_pool_dequeue_latency_seconds",
				Help:    "Time spent waiting for a decoded buffer",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"pool"},
		),
	}
}

func (m *Metrics) SetAllocatorBuffers(allocator string, count uint) {
	if m == nil {
		return
	}
	m.AllocatorBuffers.WithLabelValues(allocator).Set(float64(count))
}

func (m *Metrics) SetPoolQueued(pool string, count uint) {
	if m == nil {
		return
	}
	m.PoolQueued.WithLabelValues(pool).Set(float64(count))
}

func (m *Metrics) IncAcquired(pool string) {
	if m == nil {
		return
	}
	m.PoolAcquired.WithLabelValues(pool).Inc()
}

func (m *Metrics) IncReleased(pool, path string) {
	if m == nil {
		return
	}
	m.PoolReleased.WithLabelValues(pool, path).Inc()
}

func (m *Metrics) IncDropped(pool, reason string) {
	if m == nil {
		return
	}
	m.PoolDropped.WithLabelValues(pool, reason).Inc()
}

func (m *Metrics) IncSubmitRetries(pool string) {
	if m == nil {
		return
	}
	m.SubmitRetries.WithLabelValues(pool).Inc()
}

func (m *Metrics) ObserveDequeue(pool string, d time.Duration) {
	if m == nil {
		return
	}
	m.DequeueLatency.WithLabelValues(pool).Observe(d.Seconds())
}
