package experiment

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/control"
	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/integrators"
	"github.com/san-kum/closedloop/internal/metrics"
	"github.com/san-kum/closedloop/internal/seir"
	"github.com/san-kum/closedloop/internal/sidarthe"
)

// Model is a configured epidemic agent ready to be added to a composite.
type Model struct {
	Agent        agent.Agent
	Compartments []string
	// Reads lists the channels the agent's parameters are bound to.
	Reads []string
	// Horizon is the number of ticks after which the agent reports done,
	// or 0 when it runs forever.
	Horizon int
}

type Factory func(cfg *config.Config, logger *slog.Logger) (Model, error)

type MetricsFactory func(cfg *config.Config) []dynamo.Metric

type Registry struct {
	models  map[string]Factory
	metrics map[string]MetricsFactory
}

func NewRegistry() *Registry {
	r := &Registry{
		models:  make(map[string]Factory),
		metrics: make(map[string]MetricsFactory),
	}

	r.Register("seir", newSEIR, func(*config.Config) []dynamo.Metric {
		return []dynamo.Metric{
			metrics.NewPeak("peak_infectious", seir.I),
			metrics.NewPeakTime("peak_tick", seir.I),
			metrics.NewAttackRate(seir.S),
			metrics.NewBurden("infectious_ticks", seir.I),
			metrics.NewConservationDrift(),
		}
	})
	r.Register("sidarthe", newSidarthe, func(cfg *config.Config) []dynamo.Metric {
		ms := []dynamo.Metric{
			metrics.NewPeak("peak_threatened", sidarthe.T),
			metrics.NewPeakTime("peak_tick", sidarthe.T),
			metrics.NewAttackRate(sidarthe.S),
			metrics.NewBurden("detected_ticks", sidarthe.D, sidarthe.R, sidarthe.T),
			metrics.NewConservationDrift(),
		}
		if cfg.Sidarthe.Capacity > 0 {
			ms = append(ms, metrics.NewOverload("overload", sidarthe.T, cfg.Sidarthe.Capacity))
		}
		return ms
	})
	return r
}

// Register adds or replaces the factory for a model name.
func (r *Registry) Register(name string, f Factory, m MetricsFactory) {
	r.models[name] = f
	r.metrics[name] = m
}

func (r *Registry) GetModel(cfg *config.Config, logger *slog.Logger) (Model, error) {
	fn, ok := r.models[cfg.Model]
	if !ok {
		return Model{}, fmt.Errorf("unknown model: %s", cfg.Model)
	}
	return fn(cfg, logger)
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics returns fresh metrics for the configured model.
func (r *Registry) DefaultMetrics(cfg *config.Config) []dynamo.Metric {
	fn, ok := r.metrics[cfg.Model]
	if !ok || fn == nil {
		return nil
	}
	return fn(cfg)
}

// params parses named parameters and collects the channels they read.
func params(specs map[string]string) (map[string]agent.Param[float64], []string, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]agent.Param[float64], len(specs))
	var reads []string
	for _, name := range names {
		p, err := config.Param(specs[name])
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		if ch, ok := p.ChannelName(); ok {
			reads = append(reads, ch)
		}
		out[name] = p
	}
	return out, reads, nil
}

func newSEIR(cfg *config.Config, logger *slog.Logger) (Model, error) {
	c := cfg.SEIR
	if !(c.Dt > 0) || c.MaxSteps < 1 {
		return Model{}, fmt.Errorf("%w: max_steps=%d dt=%v", seir.ErrInvalidConfig, c.MaxSteps, c.Dt)
	}
	maxLen := c.MaxSteps*int(1/c.Dt+0.5) + 1

	ei, err := c.EI.Build(c.Dt, maxLen)
	if err != nil {
		return Model{}, fmt.Errorf("seir: ei: %w", err)
	}
	ir, err := c.IR.Build(c.Dt, maxLen)
	if err != nil {
		return Model{}, fmt.Errorf("seir: ir: %w", err)
	}
	ps, reads, err := params(map[string]string{"r0": c.R0})
	if err != nil {
		return Model{}, fmt.Errorf("seir: %w", err)
	}

	engine, err := seir.New(seir.Config{
		EI:       ei,
		IR:       ir,
		N:        c.N,
		E0:       c.E0,
		I0:       c.I0,
		R0:       ps["r0"],
		MaxSteps: c.MaxSteps,
		Dt:       c.Dt,
	}, seir.WithLogger(logger))
	if err != nil {
		return Model{}, err
	}
	return Model{
		Agent:        engine,
		Compartments: seir.Compartments,
		Reads:        reads,
		Horizon:      c.MaxSteps,
	}, nil
}

func newSidarthe(cfg *config.Config, logger *slog.Logger) (Model, error) {
	c := cfg.Sidarthe

	s0 := make(dynamo.State, len(sidarthe.Compartments))
	for name, v := range c.Initial {
		i := compartmentIndex(sidarthe.Compartments, name)
		if i < 0 || i == sidarthe.S {
			return Model{}, fmt.Errorf("%w: cannot seed compartment %q", sidarthe.ErrInvalidConfig, name)
		}
		s0[i] = v
	}
	s0[sidarthe.S] = c.N - s0.Sum()

	ps, reads, err := params(map[string]string{
		"alpha": c.Alpha,
		"beta":  c.Beta,
		"gamma": c.Gamma,
		"delta": c.Delta,
	})
	if err != nil {
		return Model{}, fmt.Errorf("sidarthe: %w", err)
	}
	integ, err := integrators.ByName(cfg.Integrator)
	if err != nil {
		return Model{}, err
	}

	r := c.Rates
	a, err := sidarthe.New(sidarthe.Config{
		S0:    s0,
		N:     c.N,
		Alpha: ps["alpha"],
		Beta:  ps["beta"],
		Gamma: ps["gamma"],
		Delta: ps["delta"],
		Rates: sidarthe.Rates{
			Epsilon: r.Epsilon, Zeta: r.Zeta, Eta: r.Eta, Theta: r.Theta,
			Kappa: r.Kappa, H: r.H, Mu: r.Mu, Nu: r.Nu,
			Xi: r.Xi, Rho: r.Rho, Sigma: r.Sigma, Tau: r.Tau,
		},
		StepSize: c.StepSize,
		MaxSteps: c.MaxSteps,
	}, sidarthe.WithIntegrator(integ), sidarthe.WithLogger(logger))
	if err != nil {
		return Model{}, err
	}
	return Model{
		Agent:        a,
		Compartments: sidarthe.Compartments,
		Reads:        reads,
		Horizon:      c.MaxSteps,
	}, nil
}

func compartmentIndex(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// newPolicy builds the feedback policy that reads the model's state and
// publishes the controlled parameter.
func newPolicy(cfg *config.Config, compartments []string, logger *slog.Logger) (*control.Policy, error) {
	c := cfg.Control
	idx := make([]int, 0, len(c.Measure))
	for _, name := range c.Measure {
		i := compartmentIndex(compartments, name)
		if i < 0 {
			return nil, fmt.Errorf("experiment: control measures unknown compartment %q", name)
		}
		idx = append(idx, i)
	}

	var law control.Law = control.NewNone()
	if c.Kind == "pid" {
		law = control.NewPID(c.Kp, c.Ki, c.Kd, c.Target)
	}
	return control.NewPolicy(law, cfg.Model, idx, c.Base, c.Min, c.Max, control.WithLogger(logger))
}
