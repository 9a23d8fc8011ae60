//go:build linux

package ir

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	lircSetRecMode   = 0x40046912
	lircModeScancode = 0x8
)

// LIRCSource reads decoded scancodes from a /dev/lircN receiver.
type LIRCSource struct {
	f *os.File
}

// OpenLIRC opens device and switches it to scancode mode.
func OpenLIRC(device string) (*LIRCSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := unix.IoctlSetPointerInt(int(f.Fd()), lircSetRecMode, lircModeScancode); err != nil {
		f.Close()
		return nil, fmt.Errorf("set scancode mode on %s: %w", device, err)
	}
	return &LIRCSource{f: f}, nil
}

// Read blocks until the next NEC scancode.
func (s *LIRCSource) Read() (Scancode, error) {
	buf := make([]byte, scancodeRecordSize)
	for {
		n, err := s.f.Read(buf)
		if err != nil {
			return Scancode{}, err
		}
		sc, ok, err := parseScancode(buf[:n])
		if err != nil {
			return Scancode{}, err
		}
		if ok {
			return sc, nil
		}
	}
}

// Close releases the device.
func (s *LIRCSource) Close() error {
	return s.f.Close()
}
