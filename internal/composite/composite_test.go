package composite_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/composite"
	"github.com/san-kum/closedloop/internal/dynamo"
)

// emitter publishes 0 on reset and 1 on every step.
func emitter() agent.Agent {
	return &agent.Func{
		ResetFn: func() (any, error) { return 0, nil },
		StepFn:  func(agent.Observable) (any, error) { return 1, nil },
	}
}

// echo republishes channel a, or 0 when it is absent.
func echo() agent.Agent {
	return &agent.Func{
		ResetFn: func() (any, error) { return 0, nil },
		StepFn: func(in agent.Observable) (any, error) {
			if v, ok := in.Get("a"); ok {
				return v, nil
			}
			return 0, nil
		},
	}
}

type counter struct {
	n      int
	limit  int
	reward float64
}

func (c *counter) Reset() (any, error) {
	c.n = 0
	return c.n, nil
}

func (c *counter) Step(agent.Observable) (agent.StepResult, error) {
	c.n++
	return agent.StepResult{
		Observation: c.n,
		Reward:      c.reward,
		Done:        c.limit > 0 && c.n >= c.limit,
		Info:        map[string]any{"n": c.n},
	}, nil
}

type failing struct{ err error }

func (f failing) Reset() (any, error) { return nil, nil }
func (f failing) Step(agent.Observable) (agent.StepResult, error) {
	return agent.StepResult{}, f.err
}

func newAB(order composite.Order, opts ...composite.Option) *composite.Composite {
	c := composite.New(order, opts...)
	Expect(c.Add(emitter(), "a")).To(Succeed())
	Expect(c.Add(echo(), "b", composite.Reads("a"))).To(Succeed())
	return c
}

var _ = Describe("Composite", func() {
	Describe("ordering", func() {
		It("shows concurrent children only the previous tick", func() {
			c := newAB(composite.Concurrent)
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(Equal(agent.Observable{"a": 1, "b": 0}))

			res, err = c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(Equal(agent.Observable{"a": 1, "b": 1}))
		})

		It("shows sequential children their predecessors' current output", func() {
			c := newAB(composite.Sequential)
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(Equal(agent.Observable{"a": 1, "b": 1}))
		})

		It("shows sequential children their successors' previous output", func() {
			c := composite.New(composite.Sequential)
			Expect(c.Add(echo(), "b")).To(Succeed())
			Expect(c.Add(emitter(), "a")).To(Succeed())
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(HaveKeyWithValue("b", 0))
		})

		It("gives the same result on parallel workers", func() {
			serial := newAB(composite.Concurrent)
			parallel := newAB(composite.Concurrent, composite.WithWorkers(4))
			for _, c := range []*composite.Composite{serial, parallel} {
				_, err := c.Reset()
				Expect(err).NotTo(HaveOccurred())
			}
			for range 5 {
				want, err := serial.Step(nil)
				Expect(err).NotTo(HaveOccurred())
				got, err := parallel.Step(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Observation).To(Equal(want.Observation))
			}
		})
	})

	Describe("reset", func() {
		It("publishes every child's initial output", func() {
			c := newAB(composite.Concurrent)
			obs, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())
			Expect(obs).To(Equal(agent.Observable{"a": 0, "b": 0}))
			Expect(c.Phase()).To(Equal(agent.Ready))
		})

		It("is idempotent and discards intermediate state", func() {
			c := composite.New(composite.Sequential)
			Expect(c.Add(&counter{}, "n")).To(Succeed())

			first, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())
			for range 3 {
				_, err = c.Step(agent.Observable{"drive": 1})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(c.Tick()).To(Equal(3))

			second, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
			Expect(c.Observable()).NotTo(HaveKey("drive"))
			Expect(c.Tick()).To(BeZero())
		})

		It("applies post transforms to reset output", func() {
			c := composite.New(composite.Concurrent)
			Expect(c.Add(emitter(), "a", composite.WithPost(func(v any) any {
				return v.(int) + 10
			}))).To(Succeed())
			obs, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())
			Expect(obs).To(HaveKeyWithValue("a", 10))
		})
	})

	Describe("channel isolation", func() {
		It("keeps a pre transform's writes away from siblings", func() {
			for _, order := range []composite.Order{composite.Concurrent, composite.Sequential} {
				c := composite.New(order)
				Expect(c.Add(emitter(), "x", composite.WithPre(func(in agent.Observable) agent.Observable {
					in["a"] = 42
					delete(in, "b")
					return in
				}))).To(Succeed())
				Expect(c.Add(emitter(), "a")).To(Succeed())
				Expect(c.Add(echo(), "b")).To(Succeed())
				_, err := c.Reset()
				Expect(err).NotTo(HaveOccurred())

				res, err := c.Step(nil)
				Expect(err).NotTo(HaveOccurred(), order.String())
				obs := res.Observation.(agent.Observable)
				Expect(obs["a"]).To(Equal(1), order.String())
				Expect(obs).To(HaveKey("b"), order.String())
				Expect(obs["b"]).NotTo(Equal(42), order.String())
			}
		})

		It("keeps a pre transform's writes into a state vector away from siblings", func() {
			for _, opts := range [][]composite.Option{nil, {composite.WithWorkers(3)}} {
				for _, order := range []composite.Order{composite.Concurrent, composite.Sequential} {
					c := composite.New(order, opts...)
					Expect(c.Add(&agent.Func{
						ResetFn: func() (any, error) { return dynamo.State{1, 2}, nil },
						StepFn:  func(agent.Observable) (any, error) { return dynamo.State{1, 2}, nil },
					}, "x")).To(Succeed())
					Expect(c.Add(emitter(), "m", composite.WithPre(func(in agent.Observable) agent.Observable {
						in["x"].(dynamo.State)[0] = 999
						return in
					}))).To(Succeed())
					Expect(c.Add(&agent.Func{
						ResetFn: func() (any, error) { return 0.0, nil },
						StepFn: func(in agent.Observable) (any, error) {
							return in["x"].(dynamo.State)[0], nil
						},
					}, "spy")).To(Succeed())
					_, err := c.Reset()
					Expect(err).NotTo(HaveOccurred())

					for range 2 {
						res, err := c.Step(nil)
						Expect(err).NotTo(HaveOccurred(), order.String())
						obs := res.Observation.(agent.Observable)
						Expect(obs["spy"]).To(Equal(1.0), order.String())
						Expect(obs["x"]).To(Equal(dynamo.State{1, 2}), order.String())
					}
				}
			}
		})

		It("lets a pre transform reshape what its own child sees", func() {
			c := composite.New(composite.Sequential)
			Expect(c.Add(emitter(), "a")).To(Succeed())
			Expect(c.Add(echo(), "b", composite.WithPre(func(in agent.Observable) agent.Observable {
				in["a"] = in["a"].(int) * 5
				return in
			}))).To(Succeed())
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(Equal(agent.Observable{"a": 1, "b": 5}))
		})

		It("does not let a child mutate its input", func() {
			c := composite.New(composite.Concurrent)
			Expect(c.Add(&agent.Func{
				StepFn: func(in agent.Observable) (any, error) {
					in["a"] = "clobbered"
					return nil, nil
				},
			}, "m")).To(Succeed())
			Expect(c.Add(emitter(), "a")).To(Succeed())
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Observable()).To(HaveKeyWithValue("a", 1))
		})
	})

	Describe("driver input", func() {
		It("is merged before any child steps and persists", func() {
			c := composite.New(composite.Concurrent)
			c.Declare("a")
			Expect(c.Add(echo(), "b", composite.Reads("a"))).To(Succeed())
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(agent.Observable{"a": 7})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(Equal(agent.Observable{"a": 7, "b": 7}))

			res, err = c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(HaveKeyWithValue("a", 7))
		})
	})

	Describe("aggregation", func() {
		It("sums rewards and reports done when any child is done", func() {
			c := composite.New(composite.Concurrent)
			Expect(c.Add(&counter{reward: 1, limit: 2}, "short")).To(Succeed())
			Expect(c.Add(&counter{reward: 0.5}, "long")).To(Succeed())
			_, err := c.Reset()
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reward).To(BeNumerically("~", 1.5))
			Expect(res.Done).To(BeFalse())

			res, err = c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Done).To(BeTrue())
			Expect(res.Info["done"]).To(Equal(map[string]bool{"short": true, "long": false}))
			Expect(c.Phase()).To(Equal(agent.Done))

			_, err = c.Reset()
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Phase()).To(Equal(agent.Ready))
		})

		It("nests as an agent", func() {
			inner := newAB(composite.Sequential)
			outer := composite.New(composite.Concurrent)
			Expect(outer.Add(inner, "inner")).To(Succeed())

			_, err := outer.Reset()
			Expect(err).NotTo(HaveOccurred())
			res, err := outer.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Observation).To(HaveKeyWithValue("inner", agent.Observable{"a": 1, "b": 1}))
		})
	})

	Describe("contract violations", func() {
		It("rejects stepping before reset", func() {
			_, err := newAB(composite.Concurrent).Step(nil)
			Expect(err).To(MatchError(agent.ErrNotReset))
		})

		It("rejects a reused output channel", func() {
			c := newAB(composite.Concurrent)
			Expect(c.Add(echo(), "a")).To(MatchError(composite.ErrDuplicateChannel))
		})

		It("rejects a nil agent", func() {
			c := composite.New(composite.Concurrent)
			Expect(c.Add(nil, "a")).To(MatchError(composite.ErrNilAgent))
		})

		It("rejects reads of unpublished channels at reset", func() {
			c := composite.New(composite.Concurrent)
			Expect(c.Add(echo(), "b", composite.Reads("a"))).To(Succeed())
			_, err := c.Reset()
			Expect(err).To(MatchError(composite.ErrUnknownChannel))

			c.Declare("a")
			_, err = c.Reset()
			Expect(err).NotTo(HaveOccurred())
		})

		It("aborts the tick when a child fails", func() {
			boom := errors.New("boom")
			for _, opts := range [][]composite.Option{nil, {composite.WithWorkers(2)}} {
				c := composite.New(composite.Concurrent, opts...)
				Expect(c.Add(emitter(), "a")).To(Succeed())
				Expect(c.Add(failing{err: boom}, "f")).To(Succeed())
				_, err := c.Reset()
				Expect(err).NotTo(HaveOccurred())

				_, err = c.Step(nil)
				Expect(err).To(MatchError(boom))
				Expect(c.Observable()).To(HaveKeyWithValue("a", 0))
				Expect(c.Tick()).To(BeZero())
			}
		})
	})

	DescribeTable("ParseOrder",
		func(in string, want composite.Order, ok bool) {
			got, err := composite.ParseOrder(in)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("concurrent", "concurrent", composite.Concurrent, true),
		Entry("upper case", "Sequential", composite.Sequential, true),
		Entry("default", "", composite.Concurrent, true),
		Entry("unknown", "random", composite.Concurrent, false),
	)
})
