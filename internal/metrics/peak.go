package metrics

import "github.com/san-kum/closedloop/internal/dynamo"

// Peak is the largest value compartment index reaches over a run.
type Peak struct {
	name    string
	index   int
	peak    float64
	at      int
	samples int
}

func NewPeak(name string, index int) *Peak {
	return &Peak{name: name, index: index}
}

func (p *Peak) Name() string { return p.name }

func (p *Peak) Observe(x dynamo.State, tick int) {
	if p.index >= len(x) {
		return
	}
	if p.samples == 0 || x[p.index] > p.peak {
		p.peak = x[p.index]
		p.at = tick
	}
	p.samples++
}

func (p *Peak) Value() float64 { return p.peak }

// Tick is the first tick at which the peak was observed.
func (p *Peak) Tick() int { return p.at }

func (p *Peak) Reset() {
	p.peak = 0
	p.at = 0
	p.samples = 0
}

// PeakTime reports the tick of a Peak as a metric of its own.
type PeakTime struct {
	*Peak
	name string
}

func NewPeakTime(name string, index int) *PeakTime {
	return &PeakTime{Peak: NewPeak(name, index), name: name}
}

func (p *PeakTime) Name() string   { return p.name }
func (p *PeakTime) Value() float64 { return float64(p.Peak.Tick()) }
