package gpio

import (
	"errors"
	"sync"
)

// FakeSensor is a test double that returns scripted readings per pin.
// It is safe for concurrent use so a poller goroutine can read while a
// test changes the script.
type FakeSensor struct {
	mu sync.Mutex

	// samples contains scripted readings per pin. Each call to
	// RawReading consumes the next one; the last repeats forever.
	samples map[int][]int
	index   map[int]int
	reads   map[int]int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by RawReading.
	ReadError error
}

// NewFakeSensor creates a FakeSensor with no scripted pins.
func NewFakeSensor() *FakeSensor {
	return &FakeSensor{
		samples: make(map[int][]int),
		index:   make(map[int]int),
		reads:   make(map[int]int),
	}
}

// Script replaces the readings returned for pin and rewinds it.
func (f *FakeSensor) Script(pin int, readings ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[pin] = readings
	f.index[pin] = 0
}

// Set makes pin return value from now on.
func (f *FakeSensor) Set(pin, value int) {
	f.Script(pin, value)
}

// SetError makes every read fail with err (nil clears it).
func (f *FakeSensor) SetError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// RawReading returns the next scripted reading for pin.
// If readings are exhausted, returns the last one repeatedly.
func (f *FakeSensor) RawReading(pin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, f.ReadError
	}

	s := f.samples[pin]
	if len(s) == 0 {
		return 0, errors.New("no samples configured")
	}

	i := f.index[pin]
	v := s[i]
	if i < len(s)-1 {
		f.index[pin] = i + 1
	}
	f.reads[pin]++
	return v, nil
}

// Reads returns how many successful readings pin has served.
func (f *FakeSensor) Reads(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[pin]
}

// Close marks the sensor as closed.
func (f *FakeSensor) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset rewinds every pin to its first reading.
func (f *FakeSensor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.index {
		f.index[pin] = 0
	}
	f.Closed = false
}
