//go:build !linux

package ir

import "errors"

// LIRCSource is not available on non-Linux platforms.
type LIRCSource struct{}

// OpenLIRC returns an error on non-Linux platforms.
func OpenLIRC(device string) (*LIRCSource, error) {
	return nil, errors.New("lirc not supported on this platform")
}

// Read returns an error on non-Linux platforms.
func (s *LIRCSource) Read() (Scancode, error) {
	return Scancode{}, errors.New("lirc not supported on this platform")
}

// Close is a no-op on non-Linux platforms.
func (s *LIRCSource) Close() error {
	return nil
}
