//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// dischargeTime is how long a pad is driven low before each measurement.
const dischargeTime = 50 * time.Microsecond

// RealSensor measures pad capacitance by charge time: the pad is discharged
// through the pin, released to input, and the number of polls until an
// external pull-up resistor charges it back to a high level is the reading.
// A finger adds capacitance, so touched pads read higher.
type RealSensor struct {
	mu       sync.Mutex
	chip     *gpiocdev.Chip
	lines    map[int]*gpiocdev.Line
	maxCount int
}

// NewRealSensor requests every pad pin on the named chip (e.g. "gpiochip0").
func NewRealSensor(chip string, pins []int, maxCount int) (*RealSensor, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealSensor{
		chip:     c,
		lines:    make(map[int]*gpiocdev.Line, len(pins)),
		maxCount: maxCount,
	}
	for _, pin := range pins {
		line, err := c.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request touch pin %d: %w", pin, err)
		}
		r.lines[pin] = line
	}
	return r, nil
}

// RawReading discharges the pad and counts polls until it reads high again.
// Returns maxCount if the pad never charges (stuck low or missing pull-up).
func (r *RealSensor) RawReading(pin int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.lines[pin]
	if !ok {
		return 0, fmt.Errorf("touch pin %d not requested", pin)
	}

	if err := line.Reconfigure(gpiocdev.AsOutput(0)); err != nil {
		return 0, fmt.Errorf("discharge pin %d: %w", pin, err)
	}
	time.Sleep(dischargeTime)
	if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
		return 0, fmt.Errorf("release pin %d: %w", pin, err)
	}

	count := 0
	for ; count < r.maxCount; count++ {
		v, err := line.Value()
		if err != nil {
			return 0, fmt.Errorf("read pin %d: %w", pin, err)
		}
		if v == 1 {
			break
		}
	}
	return count, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing so the pads are not left driven low.
func (r *RealSensor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for pin, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
