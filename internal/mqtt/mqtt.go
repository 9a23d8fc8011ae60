// Package mqtt publishes switch events and accepts switch commands over
// MQTT, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/switch-bot/internal/logic"
)

// Topics builds the topic names under one prefix.
type Topics struct {
	Prefix string
}

// Events is the topic for actuator transitions.
func (t Topics) Events() string { return t.Prefix + "/events" }

// System is the topic for lifecycle events.
func (t Topics) System() string { return t.Prefix + "/system" }

// Set is the command topic of one channel.
func (t Topics) Set(ch logic.Channel) string { return t.Prefix + "/set/" + ch.String() }

// SetFilter matches the command topics of all channels.
func (t Topics) SetFilter() string { return t.Prefix + "/set/+" }

// ErrInvalidCommand is returned for command messages that name no channel
// or carry a payload other than ON/OFF.
var ErrInvalidCommand = errors.New("mqtt: invalid command")

// ParseCommand decodes a message received on a Set topic.
func (t Topics) ParseCommand(topic string, payload []byte) (logic.Channel, bool, error) {
	name, ok := strings.CutPrefix(topic, t.Prefix+"/set/")
	if !ok {
		return 0, false, fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}
	ch, ok := logic.ParseChannel(name)
	if !ok {
		return 0, false, fmt.Errorf("%w: channel %q", ErrInvalidCommand, name)
	}
	switch logic.State(strings.ToUpper(strings.TrimSpace(string(payload)))) {
	case logic.StateOn:
		return ch, true, nil
	case logic.StateOff:
		return ch, false, nil
	}
	return 0, false, fmt.Errorf("%w: payload %q", ErrInvalidCommand, payload)
}

// CommandHandler receives decoded switch commands.
type CommandHandler func(ch logic.Channel, on bool)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a switch event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Switch SwitchPayload `json:"switch"`
}

// SwitchPayload contains the switch event details.
type SwitchPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	State     string `json:"state"`
	Source    string `json:"source,omitempty"`
}

// FormatPayload creates the JSON payload for a switch event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Switch: SwitchPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Channel:   event.Channel.String(),
			State:     string(event.State),
			Source:    string(event.Source),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
