//go:build linux

package servo

import (
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/sweeney/switch-bot/internal/logic"
)

// pwmAdaptor is the part of the gobot raspi adaptor used here.
type pwmAdaptor interface {
	Connect() error
	Finalize() error
	ServoWrite(pin string, angle byte) error
	PwmWrite(pin string, level byte) error
}

// RealDriver drives hobby servos through gobot's Raspberry Pi adaptor.
type RealDriver struct {
	mu        sync.Mutex
	adaptor   pwmAdaptor
	pins      map[logic.Channel]string
	connected bool
}

// NewRealDriver creates a driver on the Raspberry Pi PWM pins.
func NewRealDriver() *RealDriver {
	return &RealDriver{
		adaptor: raspi.NewAdaptor(),
		pins:    make(map[logic.Channel]string, logic.NumChannels),
	}
}

// Init connects the adaptor on first use and parks the servo.
func (d *RealDriver) Init(ch logic.Channel, pin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ch.Valid() {
		return fmt.Errorf("servo: invalid channel %d", ch)
	}
	if !d.connected {
		if err := d.adaptor.Connect(); err != nil {
			return fmt.Errorf("connect raspi adaptor: %w", err)
		}
		d.connected = true
	}
	if err := d.adaptor.PwmWrite(pin, 0); err != nil {
		return fmt.Errorf("init servo %s on pin %s: %w", ch, pin, err)
	}
	d.pins[ch] = pin
	return nil
}

// SetAngle moves the channel's servo.
func (d *RealDriver) SetAngle(ch logic.Channel, angle uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pin, ok := d.pins[ch]
	if !ok {
		return fmt.Errorf("servo %s not initialized", ch)
	}
	if angle > MaxAngle {
		angle = MaxAngle
	}
	if err := d.adaptor.ServoWrite(pin, angle); err != nil {
		return fmt.Errorf("servo %s angle %d: %w", ch, angle, err)
	}
	return nil
}

// TurnOff drops the PWM signal so the servo stops holding its position.
func (d *RealDriver) TurnOff(ch logic.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pin, ok := d.pins[ch]
	if !ok {
		return fmt.Errorf("servo %s not initialized", ch)
	}
	if err := d.adaptor.PwmWrite(pin, 0); err != nil {
		return fmt.Errorf("servo %s off: %w", ch, err)
	}
	return nil
}

// Close turns every servo off and finalizes the adaptor.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	var errs []error
	for ch, pin := range d.pins {
		if err := d.adaptor.PwmWrite(pin, 0); err != nil {
			errs = append(errs, fmt.Errorf("servo %s off: %w", ch, err))
		}
	}
	if err := d.adaptor.Finalize(); err != nil {
		errs = append(errs, fmt.Errorf("finalize adaptor: %w", err))
	}
	d.connected = false

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
