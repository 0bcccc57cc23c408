package kernel

import (
	"fmt"
	"math"
)

// FromWeights copies w into a kernel and scales it to unit mass.
func FromWeights(w []float64) (Kernel, error) {
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: weight %v at lag %d", ErrInvalidKernel, v, i)
		}
	}
	return Kernel(w).Normalize()
}

// Delta puts all mass on a single lag.
func Delta(lag int) (Kernel, error) {
	if lag < 0 {
		return nil, fmt.Errorf("%w: negative lag %d", ErrInvalidKernel, lag)
	}
	k := make(Kernel, lag+1)
	k[lag] = 1
	return k, nil
}

// Discretize bins a continuous delay with distribution function cdf into
// substeps of width dt. A delay in ((i-1)dt, i dt] completes at lag i, so
// lag 0 only carries the mass cdf(0). The tail beyond length lags is dropped
// and the rest renormalized.
func Discretize(cdf func(float64) float64, dt float64, length int) (Kernel, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("%w: dt must be positive, got %v", ErrInvalidKernel, dt)
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: length must be at least 2, got %d", ErrInvalidKernel, length)
	}
	k := make(Kernel, length)
	prev := cdf(0)
	k[0] = math.Max(0, prev)
	for i := 1; i < length; i++ {
		next := cdf(float64(i) * dt)
		k[i] = math.Max(0, next-prev)
		prev = next
	}
	return k.Normalize()
}

// Exponential discretizes an exponential delay with the given mean, in ticks.
func Exponential(mean, dt float64, length int) (Kernel, error) {
	return Erlang(1, mean, dt, length)
}

// Erlang discretizes a gamma delay with integer shape and the given mean,
// in ticks. Shape 1 is the exponential delay.
func Erlang(shape int, mean, dt float64, length int) (Kernel, error) {
	if shape < 1 {
		return nil, fmt.Errorf("%w: erlang shape must be >= 1, got %d", ErrInvalidKernel, shape)
	}
	if mean <= 0 {
		return nil, fmt.Errorf("%w: mean must be positive, got %v", ErrInvalidKernel, mean)
	}
	rate := float64(shape) / mean
	cdf := func(x float64) float64 {
		if x <= 0 {
			return 0
		}
		// 1 - sum_{n<shape} e^{-rx} (rx)^n / n!
		lx := rate * x
		term := math.Exp(-lx)
		sum := term
		for n := 1; n < shape; n++ {
			term *= lx / float64(n)
			sum += term
		}
		return 1 - sum
	}
	return Discretize(cdf, dt, length)
}

// Geometric is the memoryless discrete delay: each substep the transition
// completes with probability p, starting at lag 1.
func Geometric(p float64, length int) (Kernel, error) {
	if p <= 0 || p > 1 {
		return nil, fmt.Errorf("%w: geometric probability must be in (0, 1], got %v", ErrInvalidKernel, p)
	}
	if length < 2 {
		return nil, fmt.Errorf("%w: length must be at least 2, got %d", ErrInvalidKernel, length)
	}
	k := make(Kernel, length)
	q := 1.0
	for i := 1; i < length; i++ {
		k[i] = q * p
		q *= 1 - p
	}
	return k.Normalize()
}
