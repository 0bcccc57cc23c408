// Package seir implements an SEIR epidemic agent whose transitions follow
// arbitrary delay distributions instead of constant rates.
//
// The [Engine] is a renewal-equation integrator. Every new exposure is
// spread forward in time over the incubation kernel ei, every newly
// infectious individual over the recovery kernel ir and over the contact
// kernel psi derived from it. The forward mass lives in three fixed-length
// schedules indexed by absolute substep; a substep only consumes what has
// arrived at its own index.
//
// # Example
//
//	ei, _ := kernel.Erlang(2, 5.2, 1, 60)
//	ir, _ := kernel.Erlang(2, 7, 1, 60)
//	eng, err := seir.New(seir.Config{
//		EI: ei, IR: ir, N: 1e6, I0: 100,
//		R0: agent.Channel[float64]("r0"),
//		MaxSteps: 365, Dt: 1,
//	})
//
// Each Step runs 1/Dt substeps and publishes the final (S, E, I, R).
package seir
