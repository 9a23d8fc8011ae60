package servo

import (
	"sync"

	"github.com/sweeney/switch-bot/internal/logic"
)

// CallKind names a recorded driver call.
type CallKind string

const (
	CallInit     CallKind = "init"
	CallSetAngle CallKind = "set_angle"
	CallTurnOff  CallKind = "turn_off"
)

// Call is one recorded driver call.
type Call struct {
	Kind    CallKind
	Channel logic.Channel
	Angle   uint8
	Pin     string
}

// FakeDriver records driver calls for test assertions.
type FakeDriver struct {
	mu    sync.Mutex
	calls []Call

	// InitError, if set, will be returned by Init.
	InitError error
	// SetAngleError, if set, will be returned by SetAngle.
	SetAngleError error
	// TurnOffError, if set, will be returned by TurnOff.
	TurnOffError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates a FakeDriver for testing.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Init records the call.
func (f *FakeDriver) Init(ch logic.Channel, pin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitError != nil {
		return f.InitError
	}
	f.calls = append(f.calls, Call{Kind: CallInit, Channel: ch, Pin: pin})
	return nil
}

// SetAngle records the call.
func (f *FakeDriver) SetAngle(ch logic.Channel, angle uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetAngleError != nil {
		return f.SetAngleError
	}
	f.calls = append(f.calls, Call{Kind: CallSetAngle, Channel: ch, Angle: angle})
	return nil
}

// TurnOff records the call.
func (f *FakeDriver) TurnOff(ch logic.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TurnOffError != nil {
		return f.TurnOffError
	}
	f.calls = append(f.calls, Call{Kind: CallTurnOff, Channel: ch})
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// SetErrors replaces the injected SetAngle and TurnOff errors.
func (f *FakeDriver) SetErrors(setAngle, turnOff error) {
	f.mu.Lock()
	f.SetAngleError = setAngle
	f.TurnOffError = turnOff
	f.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (f *FakeDriver) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the recorded SetAngle and TurnOff calls of one channel.
func (f *FakeDriver) CallsFor(ch logic.Channel) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Channel == ch && c.Kind != CallInit {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls of kind were made for ch.
func (f *FakeDriver) Count(ch logic.Channel, kind CallKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Channel == ch && c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and injected errors.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.InitError = nil
	f.SetAngleError = nil
	f.TurnOffError = nil
	f.Closed = false
}
