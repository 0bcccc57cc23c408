// Package dynamo provides the numeric primitives shared by the epidemic
// agents and the drivers that run them.
//
// The package defines:
//
//   - [State]: compartment vector (populations, not positions)
//   - [System]: right-hand side of an ODE model (dX/dt = f(X, u, t))
//   - [Integrator]: numerical stepper for a [System]
//   - [Metric]: scalar summary accumulated over a run
//   - [Observer]: per-tick callback used by drivers and telemetry
//
// # Example
//
//	sys := sidarthe.System{N: 60e6, Rates: sidarthe.DefaultRates()}
//	x := integrators.NewEuler().Step(sys, x0, u, 0, 0.01)
//
// # Thread Safety
//
// None of the types here are safe for concurrent mutation. Integrators keep
// scratch buffers and must not be shared across goroutines.
package dynamo
