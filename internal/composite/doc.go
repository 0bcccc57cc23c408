// Package composite runs a set of agents as one closed loop.
//
// Every registered child publishes its output under a single named
// channel of a shared observable mapping. The ordering mode decides which
// outputs a child sees when it steps:
//
//   - Concurrent: every child sees the mapping as it stood at the end of
//     the previous tick. Outputs are merged only after all children ran.
//   - Sequential: children run in registration order and each one sees the
//     outputs its predecessors produced in the current tick.
//
// Reset is a bootstrap in registration order in both modes: a child's reset
// output is published before the next child resets.
//
// # Example
//
//	c := composite.New(composite.Sequential)
//	_ = c.Add(policy, "r0")
//	_ = c.Add(engine, "seir", composite.Reads("r0"))
//	obs, _ := c.Reset()
//	for {
//		res, err := c.Step(nil)
//		if err != nil || res.Done {
//			break
//		}
//	}
package composite
