package grid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveGrids = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmul_grids_live",
		Help: "Current number of grids owning a buffer",
	})

	finalizedGrids = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmul_grids_finalized_total",
		Help: "Total number of grids released by the garbage collector instead of Close",
	})

	gridErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmul_grid_errors_total",
		Help: "Total number of failed grid operations by kind",
	}, []string{"kind"})
)
