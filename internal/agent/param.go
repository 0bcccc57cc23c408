package agent

import "fmt"

type paramKind int

const (
	constantParam paramKind = iota
	channelParam
	derivedParam
)

// Param is a value an agent reads once per tick. It is either fixed at
// construction, looked up on a channel of the observable, or computed from
// the observable by a function.
//
// The zero value is Constant of T's zero value.
type Param[T any] struct {
	kind    paramKind
	value   T
	channel string
	fn      func(Observable) (T, error)
}

// Constant binds the parameter to v for the lifetime of the agent.
func Constant[T any](v T) Param[T] {
	return Param[T]{kind: constantParam, value: v}
}

// Channel binds the parameter to whatever is published on name.
func Channel[T any](name string) Param[T] {
	return Param[T]{kind: channelParam, channel: name}
}

// Derived binds the parameter to fn evaluated on the observable.
func Derived[T any](fn func(Observable) (T, error)) Param[T] {
	return Param[T]{kind: derivedParam, fn: fn}
}

// ChannelName returns the channel the parameter reads, if any.
func (p Param[T]) ChannelName() (string, bool) {
	return p.channel, p.kind == channelParam
}

func (p Param[T]) String() string {
	switch p.kind {
	case channelParam:
		return "channel(" + p.channel + ")"
	case derivedParam:
		return "derived"
	default:
		return fmt.Sprintf("%v", p.value)
	}
}

// Resolve evaluates the parameter against in.
func (p Param[T]) Resolve(in Observable) (T, error) {
	var zero T
	switch p.kind {
	case channelParam:
		v, ok := in[p.channel]
		if !ok {
			return zero, fmt.Errorf("%w: %q", ErrMissingChannel, p.channel)
		}
		if t, ok := v.(T); ok {
			return t, nil
		}
		// numeric channels are commonly published as any numeric kind
		if f, ok := toFloat(v); ok {
			if t, ok := any(f).(T); ok {
				return t, nil
			}
		}
		return zero, fmt.Errorf("%w: %q holds %T, want %T", ErrChannelType, p.channel, v, zero)
	case derivedParam:
		if p.fn == nil {
			return zero, nil
		}
		return p.fn(in)
	default:
		return p.value, nil
	}
}
