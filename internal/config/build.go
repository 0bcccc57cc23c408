package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/san-kum/closedloop/internal/agent"
	"github.com/san-kum/closedloop/internal/kernel"
)

// tailMeans is how many means of a continuous delay a default-length
// kernel covers before truncation.
const tailMeans = 8

// Build discretizes the distribution into a kernel over substeps of length dt ticks,
// never longer than maxLen lags.
func (s KernelSpec) Build(dt float64, maxLen int) (kernel.Kernel, error) {
	length := s.Length
	switch strings.ToLower(s.Type) {
	case "erlang", "gamma", "exponential":
		shape := s.Shape
		if strings.ToLower(s.Type) == "exponential" || shape == 0 {
			shape = 1
		}
		if length == 0 {
			length = int(math.Ceil(tailMeans*s.Mean/dt)) + 1
		}
		return kernel.Erlang(shape, s.Mean, dt, capLength(length, maxLen))
	case "geometric":
		if length == 0 && s.P > 0 {
			length = int(math.Ceil(tailMeans/s.P)) + 1
		}
		return kernel.Geometric(s.P, capLength(length, maxLen))
	case "delta":
		return kernel.Delta(s.Lag)
	case "weights":
		return kernel.FromWeights(s.Weights)
	default:
		return nil, fmt.Errorf("%w: unknown kernel type %q", kernel.ErrInvalidKernel, s.Type)
	}
}

func capLength(length, maxLen int) int {
	if maxLen > 0 && length > maxLen {
		return maxLen
	}
	return length
}

// Param reads a parameter written as a number or as a channel name.
func Param(s string) (agent.Param[float64], error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return agent.Param[float64]{}, fmt.Errorf("config: empty parameter")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return agent.Constant(v), nil
	}
	for i, r := range s {
		if !(unicode.IsLetter(r) || r == '_' || r == '.' || r == '-' || (i > 0 && unicode.IsDigit(r))) {
			return agent.Param[float64]{}, fmt.Errorf("config: %q is neither a number nor a channel name", s)
		}
	}
	return agent.Channel[float64](s), nil
}
