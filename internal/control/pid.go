package control

import "math"

// Law maps a measurement at tick t to a correction subtracted from the
// policy's base value.
type Law interface {
	Update(measured float64, t int) float64
	Reset()
}

type PID struct {
	Kp     float64
	Ki     float64
	Kd     float64
	Target float64

	integral float64
	prevErr  float64
	prevT    int
	first    bool
	// saturation is +1 while the correction is clipped for being too large,
	// -1 while clipped for being too small, 0 otherwise.
	saturation int
}

func NewPID(kp, ki, kd, target float64) *PID {
	return &PID{
		Kp:     kp,
		Ki:     ki,
		Kd:     kd,
		Target: target,
		first:  true,
	}
}

// Update returns Kp*e + Ki*sum(e) + Kd*de/dt for e = measured - Target,
// so a measurement above target yields a positive correction.
func (p *PID) Update(measured float64, t int) float64 {
	err := measured - p.Target

	if p.first {
		p.prevErr = err
		p.prevT = t
		p.first = false
		return p.Kp * err
	}

	dt := float64(t - p.prevT)
	if dt <= 0 {
		return p.Kp*err + p.Ki*p.integral
	}
	if !(p.saturation > 0 && err > 0) && !(p.saturation < 0 && err < 0) {
		p.integral += err * dt
	}
	derivative := (err - p.prevErr) / dt
	p.prevErr = err
	p.prevT = t
	return p.Kp*err + p.Ki*p.integral + p.Kd*derivative
}

// saturate tells the controller its last correction was clipped, so it
// stops integrating errors that would push further into the bound.
func (p *PID) saturate(dir int) { p.saturation = dir }

// Reset clears integral and derivative state
func (p *PID) Reset() {
	p.integral = 0
	p.prevErr = 0
	p.prevT = 0
	p.first = true
	p.saturation = 0
}

func (p *PID) Integral() float64 { return p.integral }

// None applies no correction.
type None struct{}

func NewNone() None { return None{} }

func (None) Update(float64, int) float64 { return 0 }

func (None) Reset() {}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
