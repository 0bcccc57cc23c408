package composite

import (
	"fmt"
	"strings"
)

// Order decides what a child observes of its siblings within one tick.
type Order int

const (
	Concurrent Order = iota
	Sequential
)

func (o Order) String() string {
	switch o {
	case Concurrent:
		return "concurrent"
	case Sequential:
		return "sequential"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder accepts "concurrent" or "sequential", case-insensitively.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "concurrent", "":
		return Concurrent, nil
	case "sequential":
		return Sequential, nil
	default:
		return 0, fmt.Errorf("composite: unknown order %q", s)
	}
}
