// Package servo drives the servo "fingers" that press the switches.
// Only angles are exposed; pulse-width arithmetic stays in the driver.
package servo

import "github.com/sweeney/switch-bot/internal/logic"

// Driver positions the servo of a channel.
type Driver interface {
	// Init attaches channel to the given header pin. A failure here is
	// fatal: a miswired actuator cannot be recovered at runtime.
	Init(ch logic.Channel, pin string) error

	// SetAngle moves the channel's servo to angle degrees (0..180).
	SetAngle(ch logic.Channel, angle uint8) error

	// TurnOff stops driving the channel's servo.
	TurnOff(ch logic.Channel) error

	// Close releases the driver.
	Close() error
}

// MaxAngle is the largest angle a servo accepts.
const MaxAngle = 180
