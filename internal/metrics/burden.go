package metrics

import "github.com/san-kum/closedloop/internal/dynamo"

// Burden accumulates the occupancy of a set of compartments over the run,
// in person-ticks.
type Burden struct {
	name    string
	indices []int
	sum     float64
}

func NewBurden(name string, indices ...int) *Burden {
	return &Burden{name: name, indices: indices}
}

func (b *Burden) Name() string { return b.name }

func (b *Burden) Observe(x dynamo.State, tick int) {
	for _, i := range b.indices {
		if i < len(x) {
			b.sum += x[i]
		}
	}
}

func (b *Burden) Value() float64 { return b.sum }

func (b *Burden) Reset() { b.sum = 0 }

// Overload is the fraction of observed ticks on which compartment index
// exceeded capacity.
type Overload struct {
	name       string
	index      int
	capacity   float64
	violations int
	samples    int
}

func NewOverload(name string, index int, capacity float64) *Overload {
	return &Overload{name: name, index: index, capacity: capacity}
}

func (o *Overload) Name() string { return o.name }

func (o *Overload) Observe(x dynamo.State, tick int) {
	if o.index >= len(x) {
		return
	}
	o.samples++
	if x[o.index] > o.capacity {
		o.violations++
	}
}

func (o *Overload) Value() float64 {
	if o.samples == 0 {
		return 0
	}
	return float64(o.violations) / float64(o.samples)
}

func (o *Overload) Reset() {
	o.violations = 0
	o.samples = 0
}
