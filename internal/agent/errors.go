package agent

import "errors"

var (
	// ErrNotReset is returned by Step when Reset has never been called.
	ErrNotReset = errors.New("agent: step called before reset")

	// ErrMissingChannel indicates a channel lookup on a name nobody published.
	ErrMissingChannel = errors.New("agent: channel not present in observable")

	// ErrChannelType indicates a channel value of an unexpected type.
	ErrChannelType = errors.New("agent: channel value has unexpected type")
)
