package analysis

import (
	"errors"
	"math"
)

var ErrTooShort = errors.New("analysis: not enough positive samples")

// FitGrowth fits ln(x) = a + r*t by least squares over ticks [from, to)
// and returns r. Non-positive and NaN samples are skipped.
func FitGrowth(series []float64, from, to int) (float64, error) {
	from = max(from, 0)
	to = min(to, len(series))

	var n, st, sy, stt, sty float64
	for t := from; t < to; t++ {
		x := series[t]
		if !(x > 0) {
			continue
		}
		y := math.Log(x)
		ft := float64(t)
		n++
		st += ft
		sy += y
		stt += ft * ft
		sty += ft * y
	}
	if n < 2 {
		return 0, ErrTooShort
	}
	den := n*stt - st*st
	if den == 0 {
		return 0, ErrTooShort
	}
	return (n*sty - st*sy) / den, nil
}

// Summary describes the course of one compartment.
type Summary struct {
	Peak     float64
	PeakTick int
	// Growth is the early exponential rate per tick, fitted from the start
	// up to the first tick at a tenth of the peak.
	Growth       float64
	DoublingTime float64
	// HalfLife counts ticks from the peak until the value first falls to
	// half of it, or -1 if it never does.
	HalfLife int
	// AboveHalf counts ticks spent at or above half the peak.
	AboveHalf int
}

// Summarize reads the course of series. Growth is NaN when the rise is too
// short to fit; DoublingTime is +Inf when the series never grew.
func Summarize(series []float64) Summary {
	s := Summary{PeakTick: -1, Growth: math.NaN(), DoublingTime: math.Inf(1), HalfLife: -1}
	for t, x := range series {
		if s.PeakTick < 0 || x > s.Peak {
			s.Peak, s.PeakTick = x, t
		}
	}
	if s.PeakTick < 0 {
		return s
	}

	end := s.PeakTick + 1
	for t, x := range series[:end] {
		if x >= s.Peak/10 {
			end = t + 1
			break
		}
	}
	if end >= 2 {
		if r, err := FitGrowth(series, 0, end); err == nil {
			s.Growth = r
			if r > 0 {
				s.DoublingTime = math.Ln2 / r
			}
		}
	}

	for t := s.PeakTick; t < len(series); t++ {
		if series[t] <= s.Peak/2 {
			s.HalfLife = t - s.PeakTick
			break
		}
	}
	for _, x := range series {
		if x >= s.Peak/2 {
			s.AboveHalf++
		}
	}
	return s
}
