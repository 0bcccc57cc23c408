package optim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func bowl(_ context.Context, p map[string]float64) (*experiment.Result, error) {
	x, y := p["x"], p["y"]
	return &experiment.Result{
		Metrics:    map[string]float64{"cost": (x-2)*(x-2) + (y-1)*(y-1)},
		StepsTaken: 10,
	}, nil
}

func TestNewGridSearch_Errors(t *testing.T) {
	_, err := NewGridSearch(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyGrid)

	_, err = NewGridSearch([]string{"x"}, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, ErrEmptyGrid)

	_, err = NewGridSearch([]string{"x"}, [][]float64{{}})
	assert.ErrorIs(t, err, ErrEmptyGrid)

	_, err = NewGridSearch([]string{"x", "x"}, [][]float64{{1}, {2}})
	assert.ErrorContains(t, err, "twice")
}

func TestGridSearch_Points(t *testing.T) {
	g, err := NewGridSearch([]string{"x", "y"}, [][]float64{{0, 1}, {5, 6, 7}})
	require.NoError(t, err)

	pts := g.Points()
	require.Len(t, pts, 6)
	assert.Equal(t, map[string]float64{"x": 0, "y": 5}, pts[0])
	assert.Equal(t, map[string]float64{"x": 0, "y": 6}, pts[1])
	assert.Equal(t, map[string]float64{"x": 1, "y": 7}, pts[5])
}

func TestGridSearch_FindsMinimum(t *testing.T) {
	for _, workers := range []int{1, 4} {
		g, err := NewGridSearch([]string{"x", "y"},
			[][]float64{{0, 1, 2, 3}, {0, 1, 2}},
			WithWorkers(workers), WithLogger(quiet))
		require.NoError(t, err)

		out, err := g.Search(context.Background(), bowl, "cost")
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"x": 2, "y": 1}, out.Best.Params)
		assert.Equal(t, 0.0, out.Best.Value)
		assert.Equal(t, 10, out.Best.Steps)
		assert.Len(t, out.Points, 12)
		assert.Equal(t, 5.0, out.Points[0].Value)
	}
}

func TestGridSearch_TiesGoToEarlierPoint(t *testing.T) {
	g, err := NewGridSearch([]string{"x"}, [][]float64{{1, 3}}, WithWorkers(2), WithLogger(quiet))
	require.NoError(t, err)

	out, err := g.Search(context.Background(), bowl, "cost")
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Best.Params["x"])
}

func TestGridSearch_FailuresNeverWin(t *testing.T) {
	boom := errors.New("diverged")
	eval := func(ctx context.Context, p map[string]float64) (*experiment.Result, error) {
		switch p["x"] {
		case 2:
			return nil, boom
		case 3:
			return &experiment.Result{Metrics: map[string]float64{"cost": math.NaN()}}, nil
		}
		return bowl(ctx, p)
	}
	g, err := NewGridSearch([]string{"x"}, [][]float64{{0, 2, 3, 5}}, WithLogger(quiet))
	require.NoError(t, err)

	out, err := g.Search(context.Background(), eval, "cost")
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Best.Params["x"])
	assert.ErrorIs(t, out.Points[1].Err, boom)
	assert.True(t, math.IsNaN(out.Points[1].Value))
}

func TestGridSearch_NoFeasible(t *testing.T) {
	eval := func(context.Context, map[string]float64) (*experiment.Result, error) {
		return nil, errors.New("nope")
	}
	g, err := NewGridSearch([]string{"x"}, [][]float64{{0, 1}}, WithLogger(quiet))
	require.NoError(t, err)

	_, err = g.Search(context.Background(), eval, "cost")
	assert.ErrorIs(t, err, ErrNoFeasible)
}

func TestGridSearch_UnknownMetric(t *testing.T) {
	g, err := NewGridSearch([]string{"x"}, [][]float64{{0}}, WithLogger(quiet))
	require.NoError(t, err)

	_, err = g.Search(context.Background(), bowl, "missing")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestGridSearch_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	eval := func(ctx context.Context, p map[string]float64) (*experiment.Result, error) {
		calls.Add(1)
		cancel()
		return bowl(ctx, p)
	}
	g, err := NewGridSearch([]string{"x"}, [][]float64{{0, 1, 2, 3}}, WithLogger(quiet))
	require.NoError(t, err)

	_, err = g.Search(ctx, eval, "cost")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHoldChannels(t *testing.T) {
	base := config.GetPreset("seir", "controlled")
	require.NotNil(t, base)
	base.Ticks = 80
	base.SEIR.MaxSteps = 80
	before := len(base.Schedule)

	g, err := NewGridSearch([]string{"r0"}, [][]float64{{1.5, 0.6, 1.0}}, WithWorkers(3), WithLogger(quiet))
	require.NoError(t, err)

	reg := experiment.NewRegistry()
	out, err := g.Search(context.Background(), HoldChannels(base, reg, 40, quiet), "attack_rate")
	require.NoError(t, err)

	assert.Equal(t, 0.6, out.Best.Params["r0"])
	assert.Greater(t, out.Points[0].Value, out.Points[2].Value)
	assert.Greater(t, out.Points[2].Value, out.Points[1].Value)
	for _, p := range out.Points {
		assert.Equal(t, 80, p.Steps)
	}
	assert.Len(t, base.Schedule, before)
}
