package control

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/dynamo"
)

var ErrInvalidPolicy = errors.New("control: invalid policy")

type Option func(*Policy)

func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// Policy publishes base minus the law's correction, clamped to [lo, hi].
// The measurement is the share of the population held by the measured
// compartments of the state on channel.
type Policy struct {
	law     Law
	channel string
	measure []int
	base    float64
	lo, hi  float64
	logger  *slog.Logger

	phase agent.Phase
	tick  int
	out   float64
}

func NewPolicy(law Law, channel string, measure []int, base, lo, hi float64, opts ...Option) (*Policy, error) {
	switch {
	case law == nil:
		return nil, fmt.Errorf("%w: nil law", ErrInvalidPolicy)
	case channel == "":
		return nil, fmt.Errorf("%w: empty state channel", ErrInvalidPolicy)
	case len(measure) == 0:
		return nil, fmt.Errorf("%w: nothing to measure", ErrInvalidPolicy)
	case math.IsNaN(base) || math.IsInf(base, 0):
		return nil, fmt.Errorf("%w: base %v", ErrInvalidPolicy, base)
	case !(lo <= hi):
		return nil, fmt.Errorf("%w: bounds [%v, %v]", ErrInvalidPolicy, lo, hi)
	}
	for _, i := range measure {
		if i < 0 {
			return nil, fmt.Errorf("%w: compartment index %d", ErrInvalidPolicy, i)
		}
	}

	p := &Policy{
		law:     law,
		channel: channel,
		measure: append([]int(nil), measure...),
		base:    base,
		lo:      lo,
		hi:      hi,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Policy) Reset() (any, error) {
	p.law.Reset()
	p.tick = 0
	p.out = clamp(p.base, p.lo, p.hi)
	p.phase = agent.Ready
	return p.out, nil
}

func (p *Policy) Step(in agent.Observable) (agent.StepResult, error) {
	if p.phase == agent.Uninitialized {
		return agent.StepResult{}, agent.ErrNotReset
	}

	v, ok := in.Get(p.channel)
	if !ok {
		return agent.StepResult{}, fmt.Errorf("control: %w: %q", agent.ErrMissingChannel, p.channel)
	}
	x, ok := v.(dynamo.State)
	if !ok {
		return agent.StepResult{}, fmt.Errorf("control: %w: %q holds %T", agent.ErrChannelType, p.channel, v)
	}
	share, err := p.share(x)
	if err != nil {
		return agent.StepResult{}, err
	}

	p.tick++
	correction := p.law.Update(share, p.tick)
	raw := p.base - correction
	p.out = clamp(raw, p.lo, p.hi)
	saturated := raw != p.out
	if pid, ok := p.law.(*PID); ok {
		switch {
		case raw < p.lo:
			pid.saturate(1)
		case raw > p.hi:
			pid.saturate(-1)
		default:
			pid.saturate(0)
		}
	}
	p.logger.Debug("control: step", "tick", p.tick, "measured", share, "out", p.out, "saturated", saturated)

	return agent.StepResult{
		Observation: p.out,
		Reward:      -share,
		Info: map[string]any{
			"measured":   share,
			"correction": correction,
			"saturated":  saturated,
		},
	}, nil
}

func (p *Policy) share(x dynamo.State) (float64, error) {
	total := x.Sum()
	if !(total > 0) {
		return 0, fmt.Errorf("%w: population %v on %q", ErrInvalidPolicy, total, p.channel)
	}
	var m float64
	for _, i := range p.measure {
		if i >= len(x) {
			return 0, fmt.Errorf("%w: compartment %d of %d-state", ErrInvalidPolicy, i, len(x))
		}
		m += x[i]
	}
	return m / total, nil
}

// Output is the value published on the last reset or step.
func (p *Policy) Output() float64 { return p.out }

func (p *Policy) Phase() agent.Phase { return p.phase }
