package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmul_device_allocations_total",
		Help: "Total number of buffers handed out by the host library",
	})

	allocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmul_device_allocation_failures_total",
		Help: "Total number of refused allocations",
	}, []string{"reason"})

	frees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmul_device_frees_total",
		Help: "Total number of buffers released back to the allocator",
	})

	invalidFrees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmul_device_invalid_frees_total",
		Help: "Total number of Free calls on unknown or already released handles",
	})

	liveBuffers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmul_device_live_buffers",
		Help: "Current number of buffers owned by callers",
	})

	liveBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmul_device_live_bytes",
		Help: "Current total size of live buffers in bytes",
	})

	mulDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridmul_device_mul_duration_seconds",
		Help:    "Time spent in the multiply kernel",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"kernel"})
)
