package agent

import (
	"fmt"
	"sort"
)

// Observable maps channel names to the value last published on them.
// There is deliberately no delete operation: channels live for the whole run.
type Observable map[string]any

// Get returns the value on name and whether it was present.
func (o Observable) Get(name string) (any, bool) {
	v, ok := o[name]
	return v, ok
}

// Float reads a numeric channel, accepting any Go integer or float kind.
func (o Observable) Float(name string) (float64, error) {
	v, ok := o[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingChannel, name)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q holds %T, want number", ErrChannelType, name, v)
	}
	return f, nil
}

// Clone returns a shallow copy. Values are shared; the mapping is not.
func (o Observable) Clone() Observable {
	c := make(Observable, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Cloner is implemented by mutable channel values that must be copied
// when an Observable is snapshotted.
type Cloner interface {
	CloneValue() any
}

// Snapshot is Clone that also copies mutable values: Cloners, float
// slices and nested Observables. Other values are shared.
func (o Observable) Snapshot() Observable {
	c := make(Observable, len(o))
	for k, v := range o {
		switch x := v.(type) {
		case Cloner:
			c[k] = x.CloneValue()
		case []float64:
			c[k] = append([]float64(nil), x...)
		case Observable:
			c[k] = x.Snapshot()
		default:
			c[k] = v
		}
	}
	return c
}

// Merge writes every entry of src into o, overwriting existing channels.
func (o Observable) Merge(src Observable) {
	for k, v := range src {
		o[k] = v
	}
}

// Keys returns the channel names in sorted order.
func (o Observable) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
