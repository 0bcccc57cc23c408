package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/composite"
	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/dynamo"
)

var ErrUnbounded = errors.New("experiment: neither ticks nor a model horizon bound the run")

// Tick is what the driver saw after one reset or step.
type Tick struct {
	Tick       int
	State      dynamo.State
	Observable agent.Observable
	Reward     float64
	Done       bool
}

type Result struct {
	Model        string
	Channel      string
	Compartments []string
	// States[i] is the model state after i ticks; States[0] is the reset
	// state.
	States []dynamo.State
	// Scalars holds every numeric channel other than the model's, one
	// value per state. Ticks before a channel first appears read NaN.
	Scalars    map[string][]float64
	Metrics    map[string]float64
	StepsTaken int
	Done       bool
	Elapsed    time.Duration
}

type Option func(*Experiment)

func WithLogger(l *slog.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

func WithObserver(o dynamo.Observer) Option {
	return func(e *Experiment) { e.observers = append(e.observers, o) }
}

func WithMetrics(ms ...dynamo.Metric) Option {
	return func(e *Experiment) { e.extra = append(e.extra, ms...) }
}

// Experiment drives one configured model, wrapped in a composite that
// receives the scheduled driver inputs.
type Experiment struct {
	cfg       *config.Config
	model     Model
	loop      *composite.Composite
	metrics   []dynamo.Metric
	extra     []dynamo.Metric
	observers []dynamo.Observer
	logger    *slog.Logger
	ticks     int

	tick   int
	done   bool
	result *Result
}

func New(cfg *config.Config, reg *Registry, opts ...Option) (*Experiment, error) {
	e := &Experiment{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Control.Enabled() {
		cfg = cfg.Clone()
		if !cfg.ReadChannel(cfg.Control.Output) {
			return nil, fmt.Errorf("experiment: %s has no parameter %q to control", cfg.Model, cfg.Control.Output)
		}
		e.cfg = cfg
	}

	order, err := composite.ParseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	model, err := reg.GetModel(cfg, e.logger)
	if err != nil {
		return nil, err
	}

	e.ticks = cfg.Ticks
	if e.ticks == 0 {
		e.ticks = model.Horizon
	}
	if e.ticks == 0 {
		return nil, ErrUnbounded
	}

	workers := max(cfg.Workers, 1)
	loop := composite.New(order, composite.WithWorkers(workers), composite.WithLogger(e.logger))
	loop.Declare(cfg.Channels()...)
	if err := loop.Add(model.Agent, cfg.Model, composite.Reads(model.Reads...)); err != nil {
		return nil, err
	}
	if cfg.Control.Enabled() {
		policy, err := newPolicy(cfg, model.Compartments, e.logger)
		if err != nil {
			return nil, err
		}
		if err := loop.Add(policy, cfg.Control.Output, composite.Reads(cfg.Model)); err != nil {
			return nil, err
		}
	}

	e.model = model
	e.loop = loop
	e.metrics = append(reg.DefaultMetrics(cfg), e.extra...)
	return e, nil
}

// Composite exposes the loop so callers can add agents of their own
// before the first Reset.
func (e *Experiment) Composite() *composite.Composite { return e.loop }

func (e *Experiment) Model() Model { return e.model }

// AddObserver registers o for every tick recorded from now on.
func (e *Experiment) AddObserver(o dynamo.Observer) {
	e.observers = append(e.observers, o)
}

// Ticks is the number of steps a full run takes at most.
func (e *Experiment) Ticks() int { return e.ticks }

// Finished reports whether the run reached its tick budget or the model
// reported done.
func (e *Experiment) Finished() bool {
	return e.result != nil && (e.done || e.tick >= e.ticks)
}

// Reset starts a new run.
func (e *Experiment) Reset() (Tick, error) {
	for _, m := range e.metrics {
		m.Reset()
	}
	obs, err := e.loop.Reset()
	if err != nil {
		return Tick{}, err
	}
	observable := obs.(agent.Observable)
	x, err := e.state(observable)
	if err != nil {
		return Tick{}, err
	}

	e.tick = 0
	e.done = false
	e.result = &Result{
		Model:        e.cfg.Model,
		Channel:      e.cfg.Model,
		Compartments: e.model.Compartments,
		States:       make([]dynamo.State, 0, e.ticks+1),
		Scalars:      make(map[string][]float64),
		Metrics:      make(map[string]float64),
	}
	e.record(0, x, observable)
	return Tick{Tick: 0, State: x, Observable: observable}, nil
}

// Next feeds the inputs scheduled for the current tick and steps once.
func (e *Experiment) Next() (Tick, error) {
	if e.result == nil {
		return Tick{}, agent.ErrNotReset
	}

	res, err := e.loop.Step(e.cfg.InputsAt(e.tick))
	if err != nil {
		return Tick{}, dynamo.SimError{Step: e.tick, Time: float64(e.tick), Message: "step failed", Wrapped: err}
	}
	e.tick++
	observable := res.Observation.(agent.Observable)
	x, err := e.state(observable)
	if err != nil {
		return Tick{}, err
	}
	if !x.IsValid() {
		return Tick{}, dynamo.SimError{Step: e.tick, Time: float64(e.tick), Message: "invalid state (NaN/Inf)", Wrapped: dynamo.ErrInvalidState}
	}

	e.done = res.Done
	e.result.StepsTaken = e.tick
	e.result.Done = res.Done
	e.record(e.tick, x, observable)
	return Tick{Tick: e.tick, State: x, Observable: observable, Reward: res.Reward, Done: res.Done}, nil
}

// Run resets and steps until the tick budget is spent, the model reports
// done or ctx is canceled. On cancellation the partial result is returned
// with the context error.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if _, err := e.Reset(); err != nil {
		return nil, err
	}
	e.logger.Info("experiment: start", "model", e.cfg.Model, "order", e.loop.Order(), "ticks", e.ticks)

	for !e.Finished() {
		select {
		case <-ctx.Done():
			e.finish(start)
			return e.result, fmt.Errorf("%w: %w", dynamo.ErrContextCanceled, ctx.Err())
		default:
		}
		if _, err := e.Next(); err != nil {
			e.finish(start)
			return e.result, err
		}
	}

	e.finish(start)
	e.logger.Info("experiment: done", "model", e.cfg.Model, "steps", e.result.StepsTaken, "elapsed", e.result.Elapsed)
	return e.result, nil
}

// Result returns the run so far, or nil before the first Reset.
func (e *Experiment) Result() *Result {
	if e.result == nil {
		return nil
	}
	for _, m := range e.metrics {
		e.result.Metrics[m.Name()] = m.Value()
	}
	return e.result
}

func (e *Experiment) finish(start time.Time) {
	e.Result()
	e.result.Elapsed = time.Since(start)
}

func (e *Experiment) state(obs agent.Observable) (dynamo.State, error) {
	v, ok := obs.Get(e.cfg.Model)
	if !ok {
		return nil, fmt.Errorf("experiment: %w: %q", agent.ErrMissingChannel, e.cfg.Model)
	}
	x, ok := v.(dynamo.State)
	if !ok {
		return nil, fmt.Errorf("experiment: %w: %q holds %T", agent.ErrChannelType, e.cfg.Model, v)
	}
	if len(x) != len(e.model.Compartments) {
		return nil, fmt.Errorf("experiment: %w: %d values for %d compartments", dynamo.ErrDimensionMismatch, len(x), len(e.model.Compartments))
	}
	return x, nil
}

func (e *Experiment) record(tick int, x dynamo.State, obs agent.Observable) {
	r := e.result
	r.States = append(r.States, x)
	for _, name := range obs.Keys() {
		if name == r.Channel {
			continue
		}
		f, err := obs.Float(name)
		if err != nil {
			continue
		}
		series, ok := r.Scalars[name]
		if !ok {
			series = make([]float64, tick)
			for i := range series {
				series[i] = math.NaN()
			}
		}
		r.Scalars[name] = append(series, f)
	}
	// channels that went quiet keep their last value
	for name, series := range r.Scalars {
		if len(series) < len(r.States) {
			r.Scalars[name] = append(series, series[len(series)-1])
		}
	}

	for _, m := range e.metrics {
		m.Observe(x, tick)
	}
	for _, o := range e.observers {
		o.OnTick(tick, obs)
	}
}
