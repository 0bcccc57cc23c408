package composite

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/closedloop/internal/agent"
)

type Option func(*Composite)

// WithWorkers lets concurrent-mode children step on up to n goroutines.
// Sequential composites always step in the calling goroutine.
func WithWorkers(n int) Option {
	return func(c *Composite) { c.workers = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composite) { c.logger = l }
}

// Composite is an agent made of child agents that talk through named
// channels. It is not safe for concurrent use.
type Composite struct {
	order   Order
	workers int
	logger  *slog.Logger

	children []*child
	outputs  map[string]struct{}
	inputs   map[string]struct{}
	checked  bool

	observable agent.Observable
	phase      agent.Phase
	tick       int
}

var _ agent.Agent = (*Composite)(nil)

func New(order Order, opts ...Option) *Composite {
	c := &Composite{
		order:   order,
		workers: 1,
		logger:  slog.Default(),
		outputs: make(map[string]struct{}),
		inputs:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers a to publish on out. Registration order is step order in
// sequential mode and merge order in both modes.
func (c *Composite) Add(a agent.Agent, out string, opts ...ChildOption) error {
	if a == nil {
		return fmt.Errorf("%w for channel %q", ErrNilAgent, out)
	}
	if out == "" {
		return ErrEmptyChannel
	}
	if _, dup := c.outputs[out]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateChannel, out)
	}
	if _, dup := c.inputs[out]; dup {
		return fmt.Errorf("%w: %q is declared as a driver input", ErrDuplicateChannel, out)
	}

	ch := &child{agent: a, out: out}
	for _, opt := range opts {
		opt(ch)
	}
	c.children = append(c.children, ch)
	c.outputs[out] = struct{}{}
	c.checked = false
	return nil
}

// Declare names channels that are fed from outside through Step's input
// rather than published by a child.
func (c *Composite) Declare(channels ...string) {
	for _, name := range channels {
		c.inputs[name] = struct{}{}
	}
	c.checked = false
}

func (c *Composite) checkReads() error {
	for _, ch := range c.children {
		for _, name := range ch.reads {
			_, published := c.outputs[name]
			_, declared := c.inputs[name]
			if !published && !declared {
				return fmt.Errorf("%w: %q reads %q", ErrUnknownChannel, ch.out, name)
			}
		}
	}
	return nil
}

// Reset clears the observable and resets every child in registration
// order, publishing each reset output before the next child resets.
func (c *Composite) Reset() (any, error) {
	if !c.checked {
		if err := c.checkReads(); err != nil {
			return nil, err
		}
		c.checked = true
	}

	obs := make(agent.Observable, len(c.children))
	for _, ch := range c.children {
		out, err := ch.reset()
		if err != nil {
			c.phase = agent.Uninitialized
			return nil, err
		}
		obs[ch.out] = out
	}

	c.observable = obs
	c.phase = agent.Ready
	c.tick = 0
	c.logger.Debug("composite: reset", "order", c.order, "children", len(c.children))
	return obs.Clone(), nil
}

// Step merges in into the observable, steps every child once under the
// configured order and returns the merged observable.
//
// A failing child aborts the tick and leaves the observable as it was
// after merging in.
func (c *Composite) Step(in agent.Observable) (agent.StepResult, error) {
	if c.phase == agent.Uninitialized {
		return agent.StepResult{}, agent.ErrNotReset
	}
	c.observable.Merge(in)

	var (
		results []agent.StepResult
		err     error
	)
	switch c.order {
	case Sequential:
		results, err = c.stepSequential()
	default:
		results, err = c.stepConcurrent()
	}
	if err != nil {
		return agent.StepResult{}, err
	}
	c.tick++

	res := c.aggregate(results)
	if res.Done {
		c.phase = agent.Done
	}
	c.logger.Debug("composite: step", "tick", c.tick, "reward", res.Reward, "done", res.Done)
	return res, nil
}

func (c *Composite) stepConcurrent() ([]agent.StepResult, error) {
	snapshot := c.observable
	results := make([]agent.StepResult, len(c.children))

	if c.workers > 1 && len(c.children) > 1 {
		var g errgroup.Group
		g.SetLimit(c.workers)
		for i, ch := range c.children {
			g.Go(func() error {
				r, err := ch.step(snapshot)
				results[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, ch := range c.children {
			r, err := ch.step(snapshot)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
	}

	for i, ch := range c.children {
		c.observable[ch.out] = results[i].Observation
	}
	return results, nil
}

func (c *Composite) stepSequential() ([]agent.StepResult, error) {
	next := c.observable.Clone()
	results := make([]agent.StepResult, len(c.children))
	for i, ch := range c.children {
		r, err := ch.step(next)
		if err != nil {
			return nil, err
		}
		next[ch.out] = r.Observation
		results[i] = r
	}
	c.observable = next
	return results, nil
}

func (c *Composite) aggregate(results []agent.StepResult) agent.StepResult {
	done := make(map[string]bool, len(results))
	infos := make(map[string]map[string]any)
	res := agent.StepResult{Observation: c.observable.Clone()}
	for i, r := range results {
		name := c.children[i].out
		res.Reward += r.Reward
		res.Done = res.Done || r.Done
		done[name] = r.Done
		if r.Info != nil {
			infos[name] = r.Info
		}
	}
	res.Info = map[string]any{
		"tick":     c.tick,
		"done":     done,
		"children": infos,
	}
	return res
}

// Observable returns a copy of the current channel mapping.
func (c *Composite) Observable() agent.Observable {
	return c.observable.Clone()
}

// Channels lists the output channels in registration order.
func (c *Composite) Channels() []string {
	names := make([]string, len(c.children))
	for i, ch := range c.children {
		names[i] = ch.out
	}
	return names
}

func (c *Composite) Order() Order { return c.order }

func (c *Composite) Phase() agent.Phase { return c.phase }

// Tick counts successful steps since the last Reset.
func (c *Composite) Tick() int { return c.tick }
