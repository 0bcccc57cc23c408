// Package kernel builds and validates discrete delay distributions.
//
// A Kernel k gives, for every integer lag i, the probability that a
// transition scheduled now completes exactly i substeps later.
package kernel

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance is the largest accepted distance between a kernel's mass and 1.
const Tolerance = 1e-6

var ErrInvalidKernel = errors.New("kernel: invalid delay distribution")

type Kernel []float64

// Sum is the total probability mass of k.
func (k Kernel) Sum() float64 {
	s := 0.0
	for _, v := range k {
		s += v
	}
	return s
}

// Mean is the expected lag in substeps.
func (k Kernel) Mean() float64 {
	m := 0.0
	for i, v := range k {
		m += float64(i) * v
	}
	return m
}

// Normalize returns a copy of k scaled to unit mass.
func (k Kernel) Normalize() (Kernel, error) {
	s := k.Sum()
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return nil, fmt.Errorf("%w: cannot normalize mass %v", ErrInvalidKernel, s)
	}
	out := make(Kernel, len(k))
	for i, v := range k {
		out[i] = v / s
	}
	return out, nil
}

// Validate checks that k is a probability distribution over at most maxLen
// lags. maxLen <= 0 disables the length check.
func (k Kernel) Validate(maxLen int) error {
	if len(k) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidKernel)
	}
	if maxLen > 0 && len(k) > maxLen {
		return fmt.Errorf("%w: length %d exceeds horizon of %d lags", ErrInvalidKernel, len(k), maxLen)
	}
	for i, v := range k {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite mass %v at lag %d", ErrInvalidKernel, v, i)
		}
		if v < 0 {
			return fmt.Errorf("%w: negative mass %v at lag %d", ErrInvalidKernel, v, i)
		}
	}
	if s := k.Sum(); math.Abs(s-1) > Tolerance {
		return fmt.Errorf("%w: mass sums to %v, want 1", ErrInvalidKernel, s)
	}
	return nil
}

// Contact derives the distribution of when an infectious individual makes
// an onward contact, measured from the moment it became infectious. Contacts
// are spread in proportion to the probability of still being infectious:
//
//	psi[i] ∝ 1 - (ir[0] + ... + ir[i])
//
// When no infectious time survives past lag 0, all contacts happen at lag 0.
func Contact(ir Kernel) Kernel {
	psi := make(Kernel, len(ir))
	if len(ir) == 0 {
		return psi
	}
	cum, total := 0.0, 0.0
	for i, v := range ir {
		cum += v
		s := 1 - cum
		if s < 0 {
			s = 0
		}
		psi[i] = s
		total += s
	}
	if total <= 0 {
		for i := range psi {
			psi[i] = 0
		}
		psi[0] = 1
		return psi
	}
	for i := range psi {
		psi[i] /= total
	}
	return psi
}
