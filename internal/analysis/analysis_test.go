package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outbreak() []float64 {
	// exponential rise at 0.1 per tick to tick 50, then decay at 0.05
	s := make([]float64, 120)
	for t := range s {
		if t <= 50 {
			s[t] = 10 * math.Exp(0.1*float64(t))
		} else {
			s[t] = s[50] * math.Exp(-0.05*float64(t-50))
		}
	}
	return s
}

func TestFitGrowth(t *testing.T) {
	r, err := FitGrowth(outbreak(), 0, 40)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, r, 1e-9)

	r, err = FitGrowth(outbreak(), 60, 200)
	require.NoError(t, err)
	assert.InDelta(t, -0.05, r, 1e-9)
}

func TestFitGrowth_TooShort(t *testing.T) {
	_, err := FitGrowth([]float64{0, 0, 5, math.NaN()}, 0, 4)
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = FitGrowth(nil, 0, 10)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestSummarize(t *testing.T) {
	s := Summarize(outbreak())

	assert.Equal(t, 50, s.PeakTick)
	assert.InDelta(t, 10*math.Exp(5), s.Peak, 1e-6)
	assert.InDelta(t, 0.1, s.Growth, 1e-9)
	assert.InDelta(t, math.Ln2/0.1, s.DoublingTime, 1e-6)
	// ln 2 / 0.05 is about 13.9 ticks
	assert.Equal(t, 14, s.HalfLife)
	// rise above half from tick 44 (ln 2 / 0.1 = 6.9 before the peak)
	assert.Equal(t, 6+1+13, s.AboveHalf)
}

func TestSummarize_Declining(t *testing.T) {
	s := Summarize([]float64{100, 50, 25, 12.5})

	assert.Equal(t, 0, s.PeakTick)
	assert.True(t, math.IsNaN(s.Growth))
	assert.True(t, math.IsInf(s.DoublingTime, 1))
	assert.Equal(t, 1, s.HalfLife)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, -1, s.PeakTick)
	assert.Equal(t, -1, s.HalfLife)
}

func TestPhasePortrait(t *testing.T) {
	x := []float64{100, 90, math.NaN(), 60, 40}
	y := []float64{1, 8, 12, 15, 4, 99}
	p := NewPhasePortrait("S", x, "I", y)

	require.Len(t, p.Points, 4)
	assert.Equal(t, Point{X: 60, Y: 15}, p.Points[2])

	out := p.ASCII(30, 10)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 10)
	for _, l := range lines {
		assert.Equal(t, 30, len([]rune(l)))
	}
	assert.Contains(t, out, "o")
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "•")
}

func TestPhasePortrait_Empty(t *testing.T) {
	p := NewPhasePortrait("S", nil, "I", nil)
	assert.Empty(t, p.ASCII(10, 10))
}
