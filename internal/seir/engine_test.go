package seir

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/kernel"
)

func erlangConfig(t *testing.T, dt float64, maxSteps int) Config {
	t.Helper()
	perTick := int(1 / dt)
	limit := maxSteps*perTick + 1
	ei, err := kernel.Erlang(2, 5.2, dt, min(30*perTick, limit))
	require.NoError(t, err)
	ir, err := kernel.Erlang(3, 7, dt, min(40*perTick, limit))
	require.NoError(t, err)
	return Config{
		EI:       ei,
		IR:       ir,
		N:        1e6,
		E0:       50,
		I0:       100,
		R0:       agent.Constant(2.5),
		MaxSteps: maxSteps,
		Dt:       dt,
	}
}

func mustReset(t *testing.T, e *Engine) dynamo.State {
	t.Helper()
	obs, err := e.Reset()
	require.NoError(t, err)
	return obs.(dynamo.State)
}

func mustStep(t *testing.T, e *Engine, in agent.Observable) agent.StepResult {
	t.Helper()
	res, err := e.Step(in)
	require.NoError(t, err)
	return res
}

// With recovery at lag 0 and incubation of exactly one substep every
// infectious cohort lives for one substep: it infects, then recovers.
func TestEngine_DegenerateKernelsMatchClosedForm(t *testing.T) {
	e, err := New(Config{
		EI:       kernel.Kernel{0, 1, 0, 0, 0, 0},
		IR:       kernel.Kernel{1, 0, 0, 0, 0, 0},
		N:        100,
		E0:       0,
		I0:       1,
		R0:       agent.Constant(2.0),
		MaxSteps: 5,
		Dt:       1,
	})
	require.NoError(t, err)

	// psi collapses onto lag 0 when nobody survives infectious past it
	assert.Equal(t, kernel.Kernel{1, 0, 0, 0, 0, 0}, e.ContactKernel())

	// the initial infectious recover at once but their contacts land at substep 1
	assert.Equal(t, dynamo.State{99, 0, 0, 1}, mustReset(t, e))

	const n, r0 = 100.0, 2.0
	x1 := 1 * r0 * 99 / n // exposures at t=1, infectious at t=2, recovered at t=2
	s1 := 99 - x1
	x3 := x1 * r0 * s1 / n // exposures at t=3 from the t=2 cohort
	s3 := s1 - x3
	x5 := x3 * r0 * s3 / n
	s5 := s3 - x5

	want := []dynamo.State{
		{s1, x1, 0, 1},
		{s1, 0, 0, 1 + x1},
		{s3, x3, 0, 1 + x1},
		{s3, 0, 0, 1 + x1 + x3},
		{s5, x5, 0, 1 + x1 + x3},
	}
	for i, w := range want {
		res := mustStep(t, e, nil)
		got := res.Observation.(dynamo.State)
		assert.InDeltaSlice(t, []float64(w), []float64(got), 1e-12, "substep %d", i+1)
		assert.Equal(t, i == len(want)-1, res.Done, "done flag at substep %d", i+1)
	}
}

func TestEngine_Conservation(t *testing.T) {
	for _, dt := range []float64{1, 0.5, 0.25} {
		e, err := New(erlangConfig(t, dt, 200))
		require.NoError(t, err)
		mustReset(t, e)

		for tick := 0; tick < 200; tick++ {
			res := mustStep(t, e, nil)
			x := res.Observation.(dynamo.State)
			assert.InDelta(t, 0, (x.Sum()-1e6)/1e6, 1e-6, "dt=%v tick=%d", dt, tick)
			assert.GreaterOrEqual(t, x.Min(), -1e-6, "dt=%v tick=%d", dt, tick)
		}
		d := e.Diagnostics()
		assert.Less(t, d.Drift, 1e-6)
		assert.Equal(t, e.Horizon(), d.Substep)
	}
}

func TestEngine_EpidemicGrowsAndBurnsOut(t *testing.T) {
	e, err := New(erlangConfig(t, 1, 400))
	require.NoError(t, err)
	mustReset(t, e)

	peak := 0.0
	var last dynamo.State
	for tick := 0; tick < 400; tick++ {
		last = mustStep(t, e, nil).Observation.(dynamo.State)
		peak = max(peak, last[I])
	}
	assert.Greater(t, peak, 1000.0)
	assert.Less(t, last[I], peak/100)
	// final size for R0=2.5 is close to 89% of the population
	assert.InDelta(t, 0.89, last[R]/1e6, 0.02)
}

func TestEngine_HorizonIsMonotone(t *testing.T) {
	cfg := erlangConfig(t, 0.5, 5)
	e, err := New(cfg)
	require.NoError(t, err)
	mustReset(t, e)

	var res agent.StepResult
	for i := 0; i < 5; i++ {
		res = mustStep(t, e, nil)
		assert.Equal(t, i == 4, res.Done, "call %d", i+1)
	}
	assert.Equal(t, agent.Done, e.Phase())
	frozen := res.Observation.(dynamo.State)

	for i := 0; i < 3; i++ {
		again := mustStep(t, e, nil)
		assert.True(t, again.Done)
		assert.Equal(t, frozen, again.Observation.(dynamo.State))
	}
	assert.Equal(t, 10, e.Diagnostics().Substep)
}

func TestEngine_ResetIsIdempotent(t *testing.T) {
	e, err := New(erlangConfig(t, 1, 50))
	require.NoError(t, err)

	first := mustReset(t, e)
	step1 := mustStep(t, e, nil).Observation
	for i := 0; i < 10; i++ {
		mustStep(t, e, nil)
	}

	second := mustReset(t, e)
	assert.Equal(t, first, second)
	assert.Equal(t, second, mustReset(t, e))
	assert.Equal(t, step1, mustStep(t, e, nil).Observation)
}

func TestEngine_StepBeforeReset(t *testing.T) {
	e, err := New(erlangConfig(t, 1, 10))
	require.NoError(t, err)

	_, err = e.Step(nil)
	assert.ErrorIs(t, err, agent.ErrNotReset)
}

func TestEngine_R0FromChannel(t *testing.T) {
	cfg := erlangConfig(t, 1, 30)
	cfg.E0 = 0
	cfg.R0 = agent.Channel[float64]("r0")
	e, err := New(cfg)
	require.NoError(t, err)
	init := mustReset(t, e)

	res := mustStep(t, e, agent.Observable{"r0": 0.0})
	assert.Equal(t, init[S], res.Observation.(dynamo.State)[S], "no exposures with r0=0")
	assert.Equal(t, 0.0, res.Info["r0"])

	res = mustStep(t, e, agent.Observable{"r0": 3})
	assert.Less(t, res.Observation.(dynamo.State)[S], init[S])

	_, err = e.Step(agent.Observable{})
	assert.ErrorIs(t, err, agent.ErrMissingChannel)

	_, err = e.Step(agent.Observable{"r0": -1.0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_R0Derived(t *testing.T) {
	cfg := erlangConfig(t, 1, 30)
	cfg.R0 = agent.Derived(func(in agent.Observable) (float64, error) {
		beta, err := in.Float("beta")
		return 3 * beta, err
	})
	e, err := New(cfg)
	require.NoError(t, err)
	mustReset(t, e)

	res := mustStep(t, e, agent.Observable{"beta": 0.5})
	assert.Equal(t, 1.5, res.Info["r0"])
}

func TestNew_InvalidConfig(t *testing.T) {
	good := func() Config {
		return Config{
			EI:       kernel.Kernel{0, 0.5, 0.5},
			IR:       kernel.Kernel{0, 0.5, 0.5},
			N:        100,
			I0:       1,
			R0:       agent.Constant(2.0),
			MaxSteps: 10,
			Dt:       1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero population", func(c *Config) { c.N = 0 }},
		{"negative e0", func(c *Config) { c.E0 = -1 }},
		{"seeds exceed population", func(c *Config) { c.E0, c.I0 = 60, 50 }},
		{"zero horizon", func(c *Config) { c.MaxSteps = 0 }},
		{"zero dt", func(c *Config) { c.Dt = 0 }},
		{"dt above one", func(c *Config) { c.Dt = 2 }},
		{"fractional substeps", func(c *Config) { c.Dt = 0.3 }},
		{"empty ei", func(c *Config) { c.EI = nil }},
		{"negative ir", func(c *Config) { c.IR = kernel.Kernel{1.5, -0.5} }},
		{"unnormalized ir", func(c *Config) { c.IR = kernel.Kernel{0.2, 0.2} }},
		{"ei longer than horizon", func(c *Config) { c.EI = make(kernel.Kernel, 12); c.EI[11] = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(good())
	assert.NoError(t, err)
}

func TestNew_KernelErrorsNameTheKernel(t *testing.T) {
	cfg := Config{
		EI:       kernel.Kernel{0, 1},
		IR:       kernel.Kernel{0.5},
		N:        10,
		MaxSteps: 3,
		Dt:       1,
	}
	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrInvalidKernel)
	assert.Contains(t, err.Error(), "ir:")
}

func TestSchedule_Bounds(t *testing.T) {
	s := newSchedule("test", 4)

	require.NoError(t, s.add(0, 2, kernel.Kernel{0.5, 0.5}))
	assert.ErrorIs(t, s.add(3, 1, kernel.Kernel{0.5, 0.5}), ErrBufferOverrun)

	v, err := s.take(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	assert.ErrorIs(t, s.add(0, 1, kernel.Kernel{1}), ErrScheduleOrder)
	_, err = s.take(2)
	assert.ErrorIs(t, err, ErrScheduleOrder)
	assert.Equal(t, 1.0, s.pending())
}

func TestEngine_LagZeroIncubationStartsNextSubstep(t *testing.T) {
	run := func(ei kernel.Kernel) []dynamo.State {
		cfg := erlangConfig(t, 0.5, 20)
		cfg.EI = ei
		cfg.E0 = 0
		e, err := New(cfg)
		require.NoError(t, err)
		states := []dynamo.State{mustReset(t, e)}
		for range 10 {
			states = append(states, mustStep(t, e, nil).Observation.(dynamo.State))
		}
		return states
	}

	// lag 0 mass behaves exactly like lag 1 mass
	assert.Equal(t, run(kernel.Kernel{0, 0.7, 0.3}), run(kernel.Kernel{0.4, 0.3, 0.3}))
	assert.Equal(t, run(kernel.Kernel{0, 1}), run(kernel.Kernel{1}))
}

func TestEngine_NegativeMassIsFatal(t *testing.T) {
	cfg := erlangConfig(t, 1, 50)
	cfg.R0 = agent.Channel[float64]("r0")
	e, err := New(cfg)
	require.NoError(t, err)
	mustReset(t, e)

	_, err = e.Step(agent.Observable{"r0": 1e9})
	assert.ErrorIs(t, err, ErrNegativeMass)
}

func TestEngine_DriftIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	e, err := New(erlangConfig(t, 1, 50), WithLogger(logger))
	require.NoError(t, err)
	mustReset(t, e)

	res := mustStep(t, e, nil)
	assert.Zero(t, buf.Len(), "a conserving step logs nothing at warn")
	assert.Less(t, res.Info["drift"].(float64), DefaultTolerance)

	// leak mass out of the population
	e.state[S] -= 100
	res = mustStep(t, e, nil)
	assert.InDelta(t, 1e-4, res.Info["drift"].(float64), 1e-9)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "seir: population drift", rec["msg"])
	assert.InDelta(t, 1e-4, rec["drift"].(float64), 1e-9)
}
