// Package control provides feedback policies that close the loop around an
// epidemic model.
//
// A policy is an [agent.Agent] registered next to the model in a composite.
// It reads the model's state channel, measures the share of the population
// in a set of compartments and publishes a contact parameter on its own
// channel, which the model reads on its next step:
//
//   - [PID]: Proportional-Integral-Derivative law on the measured share
//   - [Policy]: agent wrapper with base value and output bounds
//   - [None]: holds the base value, the open-loop baseline
//
// # Usage
//
//	pid := control.NewPID(1500, 20, 0, 0.002) // Kp, Ki, Kd, target share
//	p, _ := control.NewPolicy(pid, "seir", []int{seir.I}, 2.78, 0.6, 2.78)
//	_ = loop.Add(p, "r0", composite.Reads("seir"))
package control
