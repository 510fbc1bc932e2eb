package core

import (
	"errors"
)

var (
	// ErrConfiguration is returned when a creation or build call receives
	// malformed input. The caller may retry with corrected input.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrResourceExhausted is returned when device memory or a fixed-size arena runs out.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrOrderingViolation marks a broken call-order contract on a command list
	// or a mesh store. It is a programmer error, not a transient condition.
	ErrOrderingViolation = errors.New("ordering violation")
	// ErrDeviceLost is fatal for the session. The device and every resource
	// created from it must be recreated; nothing may be retried.
	ErrDeviceLost = errors.New("device lost")
	// ErrBackpressure reports that the oldest frame slot is still in use by the GPU.
	ErrBackpressure = errors.New("frame slot still in flight")
)
