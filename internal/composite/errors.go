package composite

import "errors"

var (
	ErrNilAgent         = errors.New("composite: nil agent")
	ErrDuplicateChannel = errors.New("composite: output channel already registered")
	ErrUnknownChannel   = errors.New("composite: read of a channel nobody publishes")
	ErrEmptyChannel     = errors.New("composite: empty channel name")
)
