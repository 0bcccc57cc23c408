package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/san-kum/closedloop/internal/dynamo"
)

// run is a toy S, I, R trajectory.
var run = []dynamo.State{
	{90, 10, 0},
	{80, 15, 5},
	{65, 20, 15},
	{55, 20, 25},
	{50, 12, 38},
}

func observe(m dynamo.Metric, states []dynamo.State) {
	for tick, x := range states {
		m.Observe(x, tick)
	}
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric dynamo.Metric
		want   float64
	}{
		{"peak infectious", NewPeak("peak_infectious", 1), 20},
		{"peak time is the first maximum", NewPeakTime("peak_time", 1), 2},
		{"attack rate", NewAttackRate(0), 1 - 50.0/90},
		{"burden", NewBurden("infectious_ticks", 1), 77},
		{"overload", NewOverload("overload", 1, 15), 0.4},
		{"no drift", NewConservationDrift(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observe(tt.metric, run)
			assert.InDelta(t, tt.want, tt.metric.Value(), 1e-12)
		})
	}
}

func TestMetricsReset(t *testing.T) {
	metrics := []dynamo.Metric{
		NewPeak("peak", 1),
		NewPeakTime("peak_time", 1),
		NewAttackRate(0),
		NewBurden("burden", 1, 2),
		NewOverload("overload", 1, 0),
		NewConservationDrift(),
	}
	for _, m := range metrics {
		t.Run(m.Name(), func(t *testing.T) {
			observe(m, []dynamo.State{{1, 2, 3}, {5, 7, 0}})
			m.Reset()
			assert.Zero(t, m.Value())

			observe(m, run[:1])
			fresh := m.Value()
			m.Reset()
			observe(m, run[:1])
			assert.Equal(t, fresh, m.Value())
		})
	}
}

func TestConservationDrift(t *testing.T) {
	m := NewConservationDrift()
	observe(m, []dynamo.State{{90, 10}, {91, 10}, {90, 10.5}})
	assert.InDelta(t, 0.01, m.Value(), 1e-12)
}

func TestPeakIgnoresShortStates(t *testing.T) {
	m := NewPeak("peak", 5)
	observe(m, run)
	assert.Zero(t, m.Value())
}
