// Package agent defines the contract every closed-loop simulation participant
// implements.
//
// An [Agent] owns its private state and talks to other agents only through an
// [Observable]: a mapping from channel name to the value last published on
// that channel. Each tick an agent receives a view of the observable and
// returns what it wants others to see.
//
//   - [Agent]: Reset / Step contract
//   - [StepResult]: observation, reward, done flag and diagnostics of a step
//   - [Observable]: channel mapping; grows, never shrinks
//   - [Param]: a value that is a constant, a channel lookup or derived from the observable
//   - [Func]: agent assembled from two functions
//
// # Usage
//
//	r0 := agent.Channel[float64]("r0")
//	v, err := r0.Resolve(obs) // obs["r0"].(float64)
package agent
