// Package viz renders a running experiment in the terminal.
//
// The package implements an interactive TUI using the Bubble Tea framework:
//
//   - [App]: scenario picker that launches a live view
//   - [Model]: live view that steps an experiment and plots its compartments
//   - Theme selection with 3 built-in color schemes
//
// # Key Bindings
//
//	Space - Pause/Resume
//	R     - Reset to tick 0
//	+/-   - Ticks per frame
//	Tab   - Focus next compartment
//	L     - Toggle log scale
//	T     - Cycle color themes
//	?     - Show help overlay
//	[]    - Time travel (rewind/forward)
package viz
