// Package gpio provides raw touch-pad readings with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Sensor reads raw capacitive touch values.
type Sensor interface {
	// RawReading returns the current raw reading of the pad on pin.
	// Larger values mean more capacitance, i.e. a finger on the pad.
	RawReading(pin int) (int, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultMaxCount bounds a single charge-time measurement.
const DefaultMaxCount = 10000
