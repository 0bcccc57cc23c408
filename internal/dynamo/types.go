package dynamo

import (
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// CloneValue lets State values be copied when an observable is snapshotted.
func (s State) CloneValue() any { return s.Clone() }

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Sum is the total population held by the state.
func (s State) Sum() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v
	}
	return sum
}

// Min returns the smallest compartment, or 0 for an empty state.
func (s State) Min() float64 {
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

// Control carries the time-varying rates fed into a System for one tick.
type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Metric summarises one channel of a run. Observe is called once per tick
// with the compartment vector published on that channel.
type Metric interface {
	Name() string
	Observe(x State, tick int)
	Value() float64
	Reset()
}

// Observer sees the whole observable mapping after every tick.
type Observer interface {
	OnTick(tick int, observable map[string]any)
}
