package metrics

import "github.com/san-kum/closedloop/internal/dynamo"

// AttackRate is the share of the initially susceptible population that
// has left the susceptible compartment by the last observed tick.
type AttackRate struct {
	name        string
	susceptible int
	initial     float64
	last        float64
	samples     int
}

func NewAttackRate(susceptible int) *AttackRate {
	return &AttackRate{name: "attack_rate", susceptible: susceptible}
}

func (a *AttackRate) Name() string { return a.name }

func (a *AttackRate) Observe(x dynamo.State, tick int) {
	if a.susceptible >= len(x) {
		return
	}
	if a.samples == 0 {
		a.initial = x[a.susceptible]
	}
	a.last = x[a.susceptible]
	a.samples++
}

func (a *AttackRate) Value() float64 {
	if a.samples == 0 || a.initial == 0 {
		return 0
	}
	return 1 - a.last/a.initial
}

func (a *AttackRate) Reset() {
	a.initial = 0
	a.last = 0
	a.samples = 0
}
