package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := fam.GetName()
			for _, l := range m.GetLabel() {
				key += "," + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestAvailabilityMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAvailabilityMetrics(reg)
	m.ObserveMutation("block_time_slot", "ok")
	m.ObserveMutation("block_time_slot", "ok")
	m.ObserveMutation("unblock_time_slot", "noop")
	m.ObserveCache("patient", "hit")
	m.ObserveGridBuild("admin", 0.2, 14)

	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["therapycal_availability_mutations_total,block_time_slot,ok"])
	assert.Equal(t, 1.0, got["therapycal_availability_mutations_total,unblock_time_slot,noop"])
	assert.Equal(t, 1.0, got["therapycal_grid_cache_total,patient,hit"])
	assert.Equal(t, 14.0, got["therapycal_grid_cells,admin"])
	assert.Equal(t, 1.0, got["therapycal_grid_build_seconds,admin"])
}

func TestAvailabilityMetricsNilSafe(t *testing.T) {
	var m *AvailabilityMetrics
	m.ObserveMutation("op", "ok")
	m.ObserveCache("patient", "miss")
	m.ObserveGridBuild("patient", 0.1, 3)
}
