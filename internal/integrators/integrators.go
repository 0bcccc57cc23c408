package integrators

import (
	"fmt"
	"strings"

	"github.com/san-kum/closedloop/internal/dynamo"
)

// ByName returns a fresh integrator for "euler" or "rk4".
func ByName(name string) (dynamo.Integrator, error) {
	switch strings.ToLower(name) {
	case "", "euler":
		return NewEuler(), nil
	case "rk4":
		return NewRK4(), nil
	default:
		return nil, fmt.Errorf("integrators: unknown integrator %q", name)
	}
}

// Names lists the accepted integrator names.
func Names() []string {
	return []string{"euler", "rk4"}
}
