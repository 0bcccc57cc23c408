package composite

import (
	"fmt"

	"github.com/san-kum/closedloop/internal/agent"
)

// PreFunc rewrites the observable a child receives. It is given a private
// copy and may mutate it freely.
type PreFunc func(in agent.Observable) agent.Observable

// PostFunc rewrites a child's raw output before it is published.
type PostFunc func(out any) any

type ChildOption func(*child)

func WithPre(fn PreFunc) ChildOption {
	return func(c *child) { c.pre = fn }
}

func WithPost(fn PostFunc) ChildOption {
	return func(c *child) { c.post = fn }
}

// Reads declares the channels a child depends on. They are checked against
// the registered outputs and declared inputs on the next Reset.
func Reads(channels ...string) ChildOption {
	return func(c *child) { c.reads = append(c.reads, channels...) }
}

type child struct {
	agent agent.Agent
	out   string
	pre   PreFunc
	post  PostFunc
	reads []string
}

func (c *child) reset() (any, error) {
	out, err := c.agent.Reset()
	if err != nil {
		return nil, fmt.Errorf("composite: reset %q: %w", c.out, err)
	}
	return c.wrapOutput(out), nil
}

// step hands the child its own snapshot of visible, so neither the child
// nor its pre transform can write through to the shared mapping or to the
// state vectors published on it.
func (c *child) step(visible agent.Observable) (agent.StepResult, error) {
	in := visible.Snapshot()
	if c.pre != nil {
		in = c.pre(in)
	}
	res, err := c.agent.Step(in)
	if err != nil {
		return agent.StepResult{}, fmt.Errorf("composite: step %q: %w", c.out, err)
	}
	res.Observation = c.wrapOutput(res.Observation)
	return res, nil
}

func (c *child) wrapOutput(out any) any {
	if c.post == nil {
		return out
	}
	return c.post(out)
}
