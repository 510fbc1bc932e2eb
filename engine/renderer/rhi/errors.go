package rhi

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/sanity/engine/core"
)

// The RHI reports failures through the engine-wide sentinels so callers can
// match them with errors.Is regardless of which package produced them.
var (
	ErrConfiguration     = core.ErrConfiguration
	ErrResourceExhausted = core.ErrResourceExhausted
	ErrOrderingViolation = core.ErrOrderingViolation
	ErrDeviceLost        = core.ErrDeviceLost
	ErrBackpressure      = core.ErrBackpressure
)

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func exhaustedErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResourceExhausted, fmt.Sprintf(format, args...))
}

func orderingErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOrderingViolation, fmt.Sprintf(format, args...))
}

// IsDeviceLost reports whether err means the device can no longer be used.
func IsDeviceLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
