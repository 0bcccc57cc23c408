// Package optim sweeps scenario parameters over a grid and picks the
// setting that minimizes a run metric.
package optim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/closedloop/internal/experiment"
)

var (
	ErrEmptyGrid     = errors.New("optim: empty grid")
	ErrUnknownMetric = errors.New("optim: unknown metric")
	ErrNoFeasible    = errors.New("optim: no grid point produced a finite metric")
)

// Evaluator runs one scenario for the given parameter values.
type Evaluator func(ctx context.Context, params map[string]float64) (*experiment.Result, error)

type Point struct {
	Params map[string]float64
	Value  float64
	Steps  int
	Err    error
}

type Outcome struct {
	Best Point
	// Points lists every grid point in enumeration order.
	Points []Point
}

type Option func(*GridSearch)

// WithWorkers bounds how many scenarios run at once.
func WithWorkers(n int) Option {
	return func(g *GridSearch) { g.workers = max(n, 1) }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *GridSearch) { g.logger = l }
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
	logger     *slog.Logger
}

func NewGridSearch(params []string, ranges [][]float64, opts ...Option) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, fmt.Errorf("%w: %d names for %d ranges", ErrEmptyGrid, len(params), len(ranges))
	}
	seen := make(map[string]bool, len(params))
	for i, name := range params {
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("%w: no values for %q", ErrEmptyGrid, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("optim: parameter %q listed twice", name)
		}
		seen[name] = true
	}
	g := &GridSearch{paramNames: params, ranges: ranges, workers: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	g.enumerate(0, make(map[string]float64, len(g.paramNames)), &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, maps.Clone(current))
		return
	}
	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[name] = val
		g.enumerate(depth+1, current, out)
	}
}

// Search evaluates every grid point and returns the one with the smallest
// finite value of metricName. Ties go to the earlier point. A failing
// scenario is kept in the outcome with its error and never wins; the
// search only fails when ctx is canceled or no point is usable.
func (g *GridSearch) Search(ctx context.Context, eval Evaluator, metricName string) (Outcome, error) {
	grid := g.Points()
	points := make([]Point, len(grid))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, params := range grid {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			points[i] = g.evaluate(gctx, eval, params, metricName)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Outcome{Points: points}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Points: points}, err
	}

	out := Outcome{Points: points}
	bestIdx := -1
	for i, p := range points {
		if p.Err != nil {
			if errors.Is(p.Err, ErrUnknownMetric) {
				return out, p.Err
			}
			continue
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		if bestIdx < 0 || p.Value < points[bestIdx].Value {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return out, ErrNoFeasible
	}
	out.Best = points[bestIdx]
	g.logger.Info("optim: search done", "points", len(points), "metric", metricName, "best", out.Best.Value, "params", out.Best.Params)
	return out, nil
}

func (g *GridSearch) evaluate(ctx context.Context, eval Evaluator, params map[string]float64, metricName string) Point {
	p := Point{Params: params, Value: math.NaN()}
	res, err := eval(ctx, maps.Clone(params))
	if err != nil {
		g.logger.Warn("optim: scenario failed", "params", params, "error", err)
		p.Err = err
		return p
	}
	v, ok := res.Metrics[metricName]
	if !ok {
		p.Err = fmt.Errorf("%w: %q", ErrUnknownMetric, metricName)
		return p
	}
	p.Value = v
	p.Steps = res.StepsTaken
	return p
}
