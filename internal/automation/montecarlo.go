package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/experiment"
)

// Ensemble draws Param uniformly from [Center-Spread, Center+Spread],
// floored at zero, once per trial and records Metric.
type Ensemble struct {
	Param  string
	Center float64
	Spread float64
	Trials int
	Metric string
	// Seed 0 seeds from the clock.
	Seed    int64
	Workers int
}

type Trial struct {
	ID    int
	Value float64
	// Metric is NaN when the trial failed.
	Metric float64
	Err    error
}

// Stats summarises the metric over successful trials.
type Stats struct {
	Count         int
	Failed        int
	Mean, Std     float64
	Min, Max      float64
	P05, P50, P95 float64
}

type EnsembleResult struct {
	Trials []Trial
	Stats  Stats
}

// CenterOn fills Center from the scenario's current value of Param when
// it is unset.
func (e *Ensemble) CenterOn(cfg *config.Config) error {
	if e.Center != 0 {
		return nil
	}
	v, ok := cfg.ParamValue(e.Param)
	if !ok {
		return fmt.Errorf("automation: %s has no numeric parameter %q to center on", cfg.Model, e.Param)
	}
	e.Center = v
	return nil
}

// Draws returns the parameter value of every trial.
func (e Ensemble) Draws() []float64 {
	seed := e.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	out := make([]float64, e.Trials)
	for i := range out {
		out[i] = math.Max(0, e.Center+(rng.Float64()-0.5)*2*e.Spread)
	}
	return out
}

// RunEnsemble runs the trials of e over base. Failed trials are kept in
// the result; an error is returned only for an invalid ensemble or a
// canceled context.
func RunEnsemble(ctx context.Context, base *config.Config, reg *experiment.Registry, e Ensemble, logger *slog.Logger) (*EnsembleResult, error) {
	if e.Trials <= 0 {
		return nil, errors.New("automation: ensemble needs at least one trial")
	}
	if e.Spread < 0 {
		return nil, errors.New("automation: negative spread")
	}
	if logger == nil {
		logger = slog.Default()
	}
	probe := base.Clone()
	if ok, err := probe.BindChannel(e.Param); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("automation: %s has no parameter %q", base.Model, e.Param)
	}

	draws := e.Draws()
	trials := make([]Trial, len(draws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for i, v := range draws {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			trials[i] = runTrial(gctx, probe, reg, e, i, v, logger)
			return nil
		})
	}
	// trials record their own failures; only cancellation fails the group
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &EnsembleResult{Trials: trials, Stats: Summarize(trials)}, nil
}

func runTrial(ctx context.Context, bound *config.Config, reg *experiment.Registry, e Ensemble, id int, v float64, logger *slog.Logger) Trial {
	t := Trial{ID: id, Value: v, Metric: math.NaN()}

	cfg := bound.Clone()
	cfg.Schedule = append(cfg.Schedule, config.Input{Tick: 0, Channel: e.Param, Value: v})

	exp, err := experiment.New(cfg, reg, experiment.WithLogger(logger))
	if err != nil {
		t.Err = err
		return t
	}
	res, err := exp.Run(ctx)
	if err != nil {
		t.Err = err
		return t
	}
	m, ok := res.Metrics[e.Metric]
	if !ok {
		t.Err = fmt.Errorf("automation: run has no metric %q", e.Metric)
		return t
	}
	t.Metric = m
	logger.Debug("trial done", "trial", id, e.Param, v, e.Metric, m)
	return t
}

// Summarize computes statistics of the finite trial metrics. Quantiles
// use the nearest rank.
func Summarize(trials []Trial) Stats {
	var vals []float64
	var s Stats
	for _, t := range trials {
		if t.Err != nil || math.IsNaN(t.Metric) || math.IsInf(t.Metric, 0) {
			s.Failed++
			continue
		}
		vals = append(vals, t.Metric)
	}
	s.Count = len(vals)
	if s.Count == 0 {
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.Max, s.P05, s.P50, s.P95 = nan, nan, nan, nan, nan, nan, nan
		return s
	}

	sort.Float64s(vals)
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	s.Mean = sum / float64(s.Count)
	ss := 0.0
	for _, v := range vals {
		ss += (v - s.Mean) * (v - s.Mean)
	}
	s.Std = math.Sqrt(ss / float64(s.Count))
	s.Min, s.Max = vals[0], vals[s.Count-1]

	rank := func(q float64) float64 {
		i := int(math.Ceil(q*float64(s.Count))) - 1
		return vals[min(max(i, 0), s.Count-1)]
	}
	s.P05, s.P50, s.P95 = rank(0.05), rank(0.5), rank(0.95)
	return s
}
