// Package logic contains the pure switch-state logic: the per-channel state
// store with its rearm gate, touch calibration and edge latching.
// This package has NO external dependencies (no GPIO, network, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Channel identifies one physical switch, its servo and its touch pad.
type Channel uint8

const (
	ChannelUp   Channel = 0
	ChannelDown Channel = 1
)

// NumChannels is the number of switch channels a device drives.
const NumChannels = 2

// String returns the channel name used in logs, topics and settings keys.
func (c Channel) String() string {
	switch c {
	case ChannelUp:
		return "up"
	case ChannelDown:
		return "down"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the implemented channels.
func (c Channel) Valid() bool {
	return c < NumChannels
}

// ParseChannel maps a channel name back to its Channel.
func ParseChannel(name string) (Channel, bool) {
	switch name {
	case "up":
		return ChannelUp, true
	case "down":
		return ChannelDown, true
	}
	return 0, false
}

// State represents the logical state of a switch.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a boolean switch state into a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Source identifies which producer requested a state change.
type Source string

const (
	SourceTouch  Source = "touch"
	SourceRemote Source = "remote"
	SourceIR     Source = "ir"
	SourceMQTT   Source = "mqtt"
)

// EventType describes what happened to a channel.
type EventType string

const (
	// EventApplied means the actuator was pushed towards a new state.
	EventApplied EventType = "APPLIED"
	// EventReleased means the actuator returned to neutral after its dwell.
	EventReleased EventType = "RELEASED"
)

// Event is a physical transition produced by the actuation scheduler.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Channel   Channel
	State     State
	// Source is the producer of the change being actuated.
	Source Source
}

// Record is a consistent snapshot of one channel's switch record.
type Record struct {
	// Desired is the logical target state, settable by any producer.
	Desired bool
	// Applied is the state last physically actuated.
	Applied bool
	// LastChange is the time of the last accepted state change.
	LastChange time.Time
	// Source is the producer of the last accepted change.
	Source Source
}

// ChannelCounts tracks accepted and rejected change requests for one channel.
type ChannelCounts struct {
	On       int
	Off      int
	Rejected int
}

// EventCounts tracks change requests per channel since startup.
type EventCounts [NumChannels]ChannelCounts

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
