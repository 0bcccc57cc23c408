package seir

import "errors"

var (
	// ErrInvalidConfig indicates a construction parameter out of range.
	ErrInvalidConfig = errors.New("seir: invalid configuration")

	// ErrNegativeMass indicates a compartment fell below zero beyond tolerance.
	ErrNegativeMass = errors.New("seir: negative compartment mass")

	// ErrBufferOverrun indicates a schedule write past the end of its buffer.
	ErrBufferOverrun = errors.New("seir: schedule write past horizon")

	// ErrScheduleOrder indicates a read or write on an already consumed substep.
	ErrScheduleOrder = errors.New("seir: schedule accessed behind its cursor")
)
