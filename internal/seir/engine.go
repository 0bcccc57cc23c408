package seir

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/kernel"
)

// Compartment indices of the published state.
const (
	S = iota
	E
	I
	R
)

// Compartments names the entries of the published state, in order.
var Compartments = []string{"S", "E", "I", "R"}

// DefaultTolerance bounds relative conservation drift and negative mass.
const DefaultTolerance = 1e-6

type Config struct {
	// EI and IR are the E->I and I->R delay kernels over substep lags.
	EI kernel.Kernel
	IR kernel.Kernel

	N  float64
	E0 float64
	I0 float64
	R0 agent.Param[float64]

	// MaxSteps is the horizon in ticks; the engine runs MaxSteps/Dt substeps.
	MaxSteps int
	// Dt is the substep length as a fraction of a tick; 1/Dt must be integral.
	Dt float64
}

func DefaultConfig() Config {
	return Config{
		N:        1e7,
		E0:       0,
		I0:       500.0 / 6,
		R0:       agent.Constant(2.78),
		MaxSteps: 1000,
		Dt:       1,
	}
}

// Diagnostics reports the numerical health of the engine.
type Diagnostics struct {
	Substep    int
	Population float64
	// Drift is |S+E+I+R-N| / N.
	Drift float64
	// MinCompartment is the smallest entry of the state.
	MinCompartment float64
	// Pending is the infectious onset mass scheduled but not yet arrived.
	Pending float64
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTolerance sets the drift warning threshold and the negative mass
// limit, relative to N.
func WithTolerance(tol float64) Option {
	return func(e *Engine) { e.tol = tol }
}

type Engine struct {
	cfg     Config
	psi     kernel.Kernel
	ei      kernel.Kernel
	perTick int
	horizon int
	tol     float64
	logger  *slog.Logger

	phase    agent.Phase
	substep  int
	state    dynamo.State
	contacts *schedule
	e2i      *schedule
	i2r      *schedule
}

// New validates cfg and returns an engine that must be Reset before use.
func New(cfg Config, opts ...Option) (*Engine, error) {
	perTick, err := validate(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		psi:     kernel.Contact(cfg.IR),
		ei:      deferLagZero(cfg.EI),
		perTick: perTick,
		horizon: cfg.MaxSteps * perTick,
		tol:     DefaultTolerance,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func validate(cfg Config) (int, error) {
	if !(cfg.N > 0) || math.IsInf(cfg.N, 0) {
		return 0, fmt.Errorf("%w: N must be positive and finite, got %v", ErrInvalidConfig, cfg.N)
	}
	if cfg.E0 < 0 || cfg.I0 < 0 {
		return 0, fmt.Errorf("%w: e0 and i0 must be non-negative, got e0=%v i0=%v", ErrInvalidConfig, cfg.E0, cfg.I0)
	}
	if cfg.E0+cfg.I0 > cfg.N {
		return 0, fmt.Errorf("%w: e0+i0=%v exceeds N=%v", ErrInvalidConfig, cfg.E0+cfg.I0, cfg.N)
	}
	if cfg.MaxSteps < 1 {
		return 0, fmt.Errorf("%w: max_steps must be at least 1, got %d", ErrInvalidConfig, cfg.MaxSteps)
	}
	if !(cfg.Dt > 0) || cfg.Dt > 1 {
		return 0, fmt.Errorf("%w: dt must be in (0, 1], got %v", ErrInvalidConfig, cfg.Dt)
	}
	perTick := int(math.Round(1 / cfg.Dt))
	if math.Abs(float64(perTick)*cfg.Dt-1) > 1e-9 {
		return 0, fmt.Errorf("%w: 1/dt must be an integer, got dt=%v", ErrInvalidConfig, cfg.Dt)
	}

	maxLen := cfg.MaxSteps*perTick + 1
	if err := cfg.EI.Validate(maxLen); err != nil {
		return 0, fmt.Errorf("%w: ei: %w", ErrInvalidConfig, err)
	}
	if err := cfg.IR.Validate(maxLen); err != nil {
		return 0, fmt.Errorf("%w: ir: %w", ErrInvalidConfig, err)
	}
	return perTick, nil
}

// deferLagZero moves the lag 0 mass of k to lag 1. An exposure cannot turn
// infectious in the substep it happens, so it does so at the next one.
func deferLagZero(k kernel.Kernel) kernel.Kernel {
	out := make(kernel.Kernel, max(len(k), 2))
	copy(out, k)
	out[1] += out[0]
	out[0] = 0
	return out
}

// Reset rebuilds the schedules from the initial condition and returns the
// initial (S, E, I, R).
func (e *Engine) Reset() (any, error) {
	cfg := e.cfg
	e.substep = 0
	e.contacts = newSchedule("n_contacts", e.horizon+len(e.psi)+1)
	e.e2i = newSchedule("e2i", e.horizon+len(e.ei)+1)
	e.i2r = newSchedule("i2r", e.horizon+len(cfg.IR)+1)

	// the initial infectious already have contacts and recoveries ahead of
	// them; the initial exposed turn infectious from the next substep on
	if err := e.contacts.add(0, cfg.I0, e.psi); err != nil {
		return nil, err
	}
	if err := e.i2r.add(0, cfg.I0, cfg.IR); err != nil {
		return nil, err
	}
	if err := e.e2i.add(1, cfg.E0, cfg.EI); err != nil {
		return nil, err
	}

	// substep 0 is never advanced; whatever lands there settles now
	if _, err := e.e2i.take(0); err != nil {
		return nil, err
	}
	recovered, err := e.i2r.take(0)
	if err != nil {
		return nil, err
	}

	e.state = dynamo.State{
		cfg.N - cfg.E0 - cfg.I0,
		cfg.E0,
		cfg.I0 - recovered,
		recovered,
	}
	e.phase = agent.Ready
	return e.state.Clone(), nil
}

// Step resolves R0 against in and advances one tick.
func (e *Engine) Step(in agent.Observable) (agent.StepResult, error) {
	switch e.phase {
	case agent.Uninitialized:
		return agent.StepResult{}, agent.ErrNotReset
	case agent.Done:
		return e.result(math.NaN()), nil
	}

	r0, err := e.cfg.R0.Resolve(in)
	if err != nil {
		return agent.StepResult{}, fmt.Errorf("seir: resolve r0: %w", err)
	}
	if r0 < 0 || math.IsNaN(r0) || math.IsInf(r0, 0) {
		return agent.StepResult{}, fmt.Errorf("%w: r0 must be finite and non-negative, got %v", ErrInvalidConfig, r0)
	}

	n := min(e.perTick, e.horizon-e.substep)
	for i := 0; i < n; i++ {
		if err := e.advance(r0); err != nil {
			return agent.StepResult{}, err
		}
	}
	if e.substep >= e.horizon {
		e.phase = agent.Done
	}

	d := e.Diagnostics()
	if d.Drift > e.tol {
		e.logger.Warn("seir: population drift", "substep", d.Substep, "drift", d.Drift, "population", d.Population)
	}
	e.logger.Debug("seir: tick", "substep", e.substep, "r0", r0, "S", e.state[S], "E", e.state[E], "I", e.state[I], "R", e.state[R])

	return e.result(r0), nil
}

// advance runs one substep with reproduction number r0.
func (e *Engine) advance(r0 float64) error {
	e.substep++
	t := e.substep
	s, ex, in, rec := e.state[S], e.state[E], e.state[I], e.state[R]

	contacts, err := e.contacts.take(t - 1)
	if err != nil {
		return err
	}
	s2e := contacts * s / e.cfg.N * r0

	// onsets from earlier exposures only; this substep's start at t+1
	e2i, err := e.e2i.take(t)
	if err != nil {
		return err
	}
	if err := e.e2i.add(t+1, s2e, e.ei[1:]); err != nil {
		return err
	}

	if err := e.contacts.add(t, e2i, e.psi); err != nil {
		return err
	}
	if err := e.i2r.add(t, e2i, e.cfg.IR); err != nil {
		return err
	}
	i2r, err := e.i2r.take(t)
	if err != nil {
		return err
	}

	e.state = dynamo.State{
		s - s2e,
		ex + s2e - e2i,
		in + e2i - i2r,
		rec + i2r,
	}

	if m := e.state.Min(); m < -e.tol*e.cfg.N {
		return fmt.Errorf("%w: substep %d state %v", ErrNegativeMass, t, e.state)
	}
	return nil
}

func (e *Engine) result(r0 float64) agent.StepResult {
	d := e.Diagnostics()
	info := map[string]any{
		"substep": d.Substep,
		"drift":   d.Drift,
	}
	if !math.IsNaN(r0) {
		info["r0"] = r0
	}
	return agent.StepResult{
		Observation: e.state.Clone(),
		Done:        e.phase == agent.Done,
		Info:        info,
	}
}

// Diagnostics is valid after the first Reset.
func (e *Engine) Diagnostics() Diagnostics {
	pop := e.state.Sum()
	d := Diagnostics{
		Substep:        e.substep,
		Population:     pop,
		Drift:          math.Abs(pop-e.cfg.N) / e.cfg.N,
		MinCompartment: e.state.Min(),
	}
	if e.e2i != nil {
		d.Pending = e.e2i.pending()
	}
	return d
}

// State returns a copy of the current compartments.
func (e *Engine) State() dynamo.State { return e.state.Clone() }

func (e *Engine) Phase() agent.Phase { return e.phase }

// Horizon is the total number of substeps the engine will run.
func (e *Engine) Horizon() int { return e.horizon }

// ContactKernel returns psi, the onward contact delay distribution.
func (e *Engine) ContactKernel() kernel.Kernel {
	return append(kernel.Kernel(nil), e.psi...)
}
