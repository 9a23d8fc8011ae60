//go:build !linux

package servo

import (
	"errors"

	"github.com/sweeney/switch-bot/internal/logic"
)

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns a driver whose every call fails on non-Linux platforms.
func NewRealDriver() *RealDriver {
	return &RealDriver{}
}

// Init always fails on non-Linux platforms.
func (d *RealDriver) Init(ch logic.Channel, pin string) error {
	return errors.New("servo: not supported on this platform (requires Linux)")
}

// SetAngle is not implemented on non-Linux platforms.
func (d *RealDriver) SetAngle(ch logic.Channel, angle uint8) error {
	return errors.New("servo: not supported")
}

// TurnOff is not implemented on non-Linux platforms.
func (d *RealDriver) TurnOff(ch logic.Channel) error {
	return errors.New("servo: not supported")
}

// Close is a no-op on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
