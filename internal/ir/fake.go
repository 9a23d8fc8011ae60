package ir

import (
	"errors"
	"sync"
)

// ErrSourceClosed is returned by FakeSource after Close.
var ErrSourceClosed = errors.New("ir: source closed")

// FakeSource is a Source fed by the test.
type FakeSource struct {
	codes     chan Scancode
	closeOnce sync.Once
	closed    chan struct{}
}

// NewFakeSource creates a FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		codes:  make(chan Scancode),
		closed: make(chan struct{}),
	}
}

// Send delivers sc to the reader. It reports false once the source is closed.
func (s *FakeSource) Send(sc Scancode) bool {
	select {
	case s.codes <- sc:
		return true
	case <-s.closed:
		return false
	}
}

// Read implements Source.
func (s *FakeSource) Read() (Scancode, error) {
	select {
	case sc := <-s.codes:
		return sc, nil
	case <-s.closed:
		return Scancode{}, ErrSourceClosed
	}
}

// Close implements Source.
func (s *FakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
