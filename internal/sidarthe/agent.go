package sidarthe

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/integrators"
)

var ErrInvalidConfig = errors.New("sidarthe: invalid configuration")

type Config struct {
	// S0 is the initial state in compartment order; it must sum to N.
	S0 dynamo.State
	N  float64

	Alpha agent.Param[float64]
	Beta  agent.Param[float64]
	Gamma agent.Param[float64]
	Delta agent.Param[float64]
	Rates Rates

	// StepSize is the integration step as a fraction of a tick.
	StepSize float64
	// MaxSteps ends the run after that many ticks; 0 runs forever.
	MaxSteps int
}

// DefaultConfig is the early Italian outbreak: 60 million people with 200
// infected, 20 diagnosed, 1 ailing and 2 recognized.
func DefaultConfig() Config {
	n := 60e6
	s0 := dynamo.State{0, 200, 20, 1, 2, 0, 0, 0}
	s0[S] = n - s0.Sum()
	return Config{
		S0:       s0,
		N:        n,
		Alpha:    agent.Constant(0.57),
		Beta:     agent.Constant(0.011),
		Gamma:    agent.Constant(0.456),
		Delta:    agent.Constant(0.011),
		Rates:    DefaultRates(),
		StepSize: 0.01,
	}
}

type Option func(*Agent)

// WithIntegrator replaces the default explicit Euler scheme.
func WithIntegrator(integ dynamo.Integrator) Option {
	return func(a *Agent) { a.integ = integ }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

type Agent struct {
	cfg      Config
	sys      System
	integ    dynamo.Integrator
	substeps int
	logger   *slog.Logger

	phase agent.Phase
	tick  int
	state dynamo.State
}

var _ agent.Agent = (*Agent)(nil)

func New(cfg Config, opts ...Option) (*Agent, error) {
	substeps, err := validate(cfg)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:      cfg,
		sys:      System{N: cfg.N, Rates: cfg.Rates},
		integ:    integrators.NewEuler(),
		substeps: substeps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func validate(cfg Config) (int, error) {
	if !(cfg.N > 0) || math.IsInf(cfg.N, 0) {
		return 0, fmt.Errorf("%w: N must be positive and finite, got %v", ErrInvalidConfig, cfg.N)
	}
	if len(cfg.S0) != len(Compartments) {
		return 0, fmt.Errorf("%w: s0 has %d compartments, want %d", ErrInvalidConfig, len(cfg.S0), len(Compartments))
	}
	if !cfg.S0.IsValid() || cfg.S0.Min() < 0 {
		return 0, fmt.Errorf("%w: s0 must be finite and non-negative, got %v", ErrInvalidConfig, cfg.S0)
	}
	if math.Abs(cfg.S0.Sum()-cfg.N) > 1e-9*cfg.N {
		return 0, fmt.Errorf("%w: s0 sums to %v, want N=%v", ErrInvalidConfig, cfg.S0.Sum(), cfg.N)
	}
	for i, v := range cfg.Rates.values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: rate %d is %v", ErrInvalidConfig, i, v)
		}
	}
	if !(cfg.StepSize > 0) || cfg.StepSize > 1 {
		return 0, fmt.Errorf("%w: step size must be in (0, 1], got %v", ErrInvalidConfig, cfg.StepSize)
	}
	substeps := int(math.Round(1 / cfg.StepSize))
	if math.Abs(float64(substeps)*cfg.StepSize-1) > 1e-9 {
		return 0, fmt.Errorf("%w: 1/step size must be an integer, got %v", ErrInvalidConfig, cfg.StepSize)
	}
	if cfg.MaxSteps < 0 {
		return 0, fmt.Errorf("%w: max steps must be non-negative, got %d", ErrInvalidConfig, cfg.MaxSteps)
	}
	return substeps, nil
}

func (a *Agent) Reset() (any, error) {
	a.state = a.cfg.S0.Clone()
	a.tick = 0
	a.phase = agent.Ready
	return a.state.Clone(), nil
}

// contagion resolves alpha, beta, gamma and delta against in.
func (a *Agent) contagion(in agent.Observable) (dynamo.Control, error) {
	params := []struct {
		name string
		p    agent.Param[float64]
	}{
		{"alpha", a.cfg.Alpha},
		{"beta", a.cfg.Beta},
		{"gamma", a.cfg.Gamma},
		{"delta", a.cfg.Delta},
	}
	u := make(dynamo.Control, len(params))
	for i, p := range params {
		v, err := p.p.Resolve(in)
		if err != nil {
			return nil, fmt.Errorf("sidarthe: resolve %s: %w", p.name, err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s must be finite and non-negative, got %v", ErrInvalidConfig, p.name, v)
		}
		u[i] = v
	}
	return u, nil
}

// Step integrates one tick in 1/StepSize substeps with the contagion rates
// resolved once at the start of the tick.
func (a *Agent) Step(in agent.Observable) (agent.StepResult, error) {
	switch a.phase {
	case agent.Uninitialized:
		return agent.StepResult{}, agent.ErrNotReset
	case agent.Done:
		return agent.StepResult{Observation: a.state.Clone(), Done: true}, nil
	}

	u, err := a.contagion(in)
	if err != nil {
		return agent.StepResult{}, err
	}

	h := 1 / float64(a.substeps)
	x := a.state
	for k := 0; k < a.substeps; k++ {
		t := float64(a.tick) + float64(k)*h
		x = a.integ.Step(a.sys, x, u, t, h)
		if !x.IsValid() {
			return agent.StepResult{}, dynamo.SimError{
				Step:    a.tick,
				Time:    t,
				Message: "non-finite compartment",
				Wrapped: dynamo.ErrInvalidState,
			}
		}
	}
	a.state = x
	a.tick++
	if a.cfg.MaxSteps > 0 && a.tick >= a.cfg.MaxSteps {
		a.phase = agent.Done
	}

	r0 := a.cfg.Rates.ReproductionNumber(u[0], u[1], u[2], u[3])
	a.logger.Debug("sidarthe: tick", "tick", a.tick, "r0", r0, "infected", x[I]+x[D]+x[A]+x[R]+x[T])

	return agent.StepResult{
		Observation: a.state.Clone(),
		Done:        a.phase == agent.Done,
		Info:        map[string]any{"tick": a.tick, "r0": r0},
	}, nil
}

// R0 is the basic reproduction number under the contagion rates that in
// would bind this tick.
func (a *Agent) R0(in agent.Observable) (float64, error) {
	u, err := a.contagion(in)
	if err != nil {
		return 0, err
	}
	return a.cfg.Rates.ReproductionNumber(u[0], u[1], u[2], u[3]), nil
}

func (a *Agent) State() dynamo.State { return a.state.Clone() }

func (a *Agent) Phase() agent.Phase { return a.phase }
