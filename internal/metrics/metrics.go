package metrics

import "github.com/prometheus/client_golang/prometheus"

// AvailabilityMetrics exposes counters/histograms for the availability engine.
type AvailabilityMetrics struct {
	mutationsTotal *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
	buildLatency   *prometheus.HistogramVec
	gridCells      *prometheus.GaugeVec
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapycal",
			Subsystem: "availability",
			Name:      "mutations_total",
			Help:      "Total availability mutations by operation and outcome",
		}, []string{"op", "status"}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapycal",
			Subsystem: "grid",
			Name:      "cache_total",
			Help:      "Grid cache lookups by view and result",
		}, []string{"view", "result"}),
		buildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "therapycal",
			Subsystem: "grid",
			Name:      "build_seconds",
			Help:      "Latency of reading events and deriving the grid",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		gridCells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "therapycal",
			Subsystem: "grid",
			Name:      "cells",
			Help:      "Cells in the most recently built grid",
		}, []string{"view"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.mutationsTotal, m.cacheTotal, m.buildLatency, m.gridCells)
	return m
}

func (m *AvailabilityMetrics) ObserveMutation(op, status string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(op, status).Inc()
}

func (m *AvailabilityMetrics) ObserveCache(view, result string) {
	if m == nil {
		return
	}
	m.cacheTotal.WithLabelValues(view, result).Inc()
}

func (m *AvailabilityMetrics) ObserveGridBuild(view string, seconds float64, cells int) {
	if m == nil {
		return
	}
	m.buildLatency.WithLabelValues(view).Observe(seconds)
	m.gridCells.WithLabelValues(view).Set(float64(cells))
}
