// Package analysis characterizes epidemic trajectories.
//
// The package includes tools for reading a stored run:
//
//   - [Summarize]: peak, early exponential growth, doubling time, half-life
//   - [FitGrowth]: log-linear growth rate over a window of ticks
//   - [NewPhasePortrait]: one compartment against another
//
// # Growth
//
// A positive early growth rate means the outbreak was expanding:
//
//	s := analysis.Summarize(infectious)
//	if s.Growth > 0 {
//	    fmt.Printf("doubling every %.1f ticks\n", s.DoublingTime)
//	}
package analysis
