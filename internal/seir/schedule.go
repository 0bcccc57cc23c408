package seir

import (
	"fmt"

	"github.com/san-kum/closedloop/internal/kernel"
)

// schedule is a forward event horizon. buf[t] holds the mass of a
// transition expected to materialize at absolute substep t. Indices below
// cursor have been consumed and are frozen.
type schedule struct {
	name   string
	buf    []float64
	cursor int
}

func newSchedule(name string, size int) *schedule {
	return &schedule{name: name, buf: make([]float64, size)}
}

// add spreads scale*k over buf[at : at+len(k)].
func (s *schedule) add(at int, scale float64, k kernel.Kernel) error {
	if at < s.cursor {
		return fmt.Errorf("%w: %s write at %d, cursor %d", ErrScheduleOrder, s.name, at, s.cursor)
	}
	if at+len(k) > len(s.buf) {
		return fmt.Errorf("%w: %s write [%d, %d) into %d slots", ErrBufferOverrun, s.name, at, at+len(k), len(s.buf))
	}
	if scale == 0 {
		return nil
	}
	for i, v := range k {
		s.buf[at+i] += scale * v
	}
	return nil
}

// take consumes the mass that arrives at substep t. Substeps are consumed
// strictly in order.
func (s *schedule) take(t int) (float64, error) {
	if t != s.cursor {
		return 0, fmt.Errorf("%w: %s read at %d, cursor %d", ErrScheduleOrder, s.name, t, s.cursor)
	}
	if t >= len(s.buf) {
		return 0, fmt.Errorf("%w: %s read at %d of %d slots", ErrBufferOverrun, s.name, t, len(s.buf))
	}
	s.cursor++
	return s.buf[t], nil
}

// pending is the mass scheduled at or after the cursor.
func (s *schedule) pending() float64 {
	sum := 0.0
	for _, v := range s.buf[s.cursor:] {
		sum += v
	}
	return sum
}
