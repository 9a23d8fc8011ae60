// Package wire encodes and decodes the binary frames exchanged with the
// remote peer. Two frame layouts exist across device revisions; they are not
// compatible and one link always speaks exactly one of them.
package wire

import (
	"fmt"

	"github.com/sweeney/switch-bot/internal/logic"
)

// Layout selects the byte layout of a device revision.
type Layout int

const (
	// LayoutCurrent: welcome {0x01, 0x02, states|battery, id...},
	// state change {0x03, ch|state|battery}.
	LayoutCurrent Layout = iota
	// LayoutLegacy: welcome {0x02, 0x01, battery, id...},
	// state change {0x02, 0x03, ch|state|battery}.
	LayoutLegacy
)

// Discriminator bytes.
const (
	TypeWelcome     byte = 0x01
	TypeSwitchBot   byte = 0x02
	TypeStateChange byte = 0x03
)

// ParseLayout parses a layout name from configuration.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "current":
		return LayoutCurrent, nil
	case "legacy":
		return LayoutLegacy, nil
	}
	return 0, fmt.Errorf("wire: unknown frame layout %q", s)
}

// String returns the configuration name of the layout.
func (l Layout) String() string {
	if l == LayoutLegacy {
		return "legacy"
	}
	return "current"
}

// WelcomeCarriesState reports whether the welcome frame of this layout
// includes the state of every channel.
func (l Layout) WelcomeCarriesState() bool {
	return l == LayoutCurrent
}

// Kind is the semantic type of a decoded frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindWelcome
	KindStateChange
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindWelcome:
		return "welcome"
	case KindStateChange:
		return "state_change"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Frame is a decoded frame. Only the fields of its Kind are meaningful.
type Frame struct {
	Kind     Kind
	DeviceID string
	Channel  logic.Channel
	State    bool
	States   [logic.NumChannels]bool
	Battery  uint8
}

// Codec encodes and decodes frames for one layout.
type Codec struct {
	Layout Layout
}

// New returns a codec for layout.
func New(layout Layout) Codec {
	return Codec{Layout: layout}
}

func packState(c logic.Channel, state bool, battery uint8) byte {
	return byte(c)<<6 | boolBit(state)<<4 | battery&0x0F
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeWelcome builds the authoritative full-state handshake frame.
// Missing states are encoded as off.
func (c Codec) EncodeWelcome(deviceID string, battery uint8, states ...bool) []byte {
	var up, down bool
	if len(states) > 0 {
		up = states[0]
	}
	if len(states) > 1 {
		down = states[1]
	}

	buf := make([]byte, 0, 3+len(deviceID))
	switch c.Layout {
	case LayoutLegacy:
		buf = append(buf, TypeSwitchBot, TypeWelcome, battery)
	default:
		buf = append(buf, TypeWelcome, TypeSwitchBot, boolBit(up)<<6|boolBit(down)<<4|battery&0x0F)
	}
	return append(buf, deviceID...)
}

// EncodeStateChange builds the frame broadcast after a channel was actuated.
func (c Codec) EncodeStateChange(ch logic.Channel, state bool, battery uint8) []byte {
	b := packState(ch, state, battery)
	if c.Layout == LayoutLegacy {
		return []byte{TypeSwitchBot, TypeStateChange, b}
	}
	return []byte{TypeStateChange, b}
}

// EncodeCommand builds the single-byte command a peer sends to switch a
// channel: the high nibble is channel+1, the low nibble the target state.
func (c Codec) EncodeCommand(ch logic.Channel, state bool) []byte {
	return []byte{byte(ch+1)<<4 | boolBit(state)}
}

// Decode classifies b. Frames that are too short or carry an unknown
// discriminator decode as KindUnknown; Decode never reads past len(b).
func (c Codec) Decode(b []byte) Frame {
	if len(b) == 0 {
		return Frame{}
	}
	if len(b) == 1 {
		return c.decodeCommand(b[0])
	}
	if c.Layout == LayoutLegacy {
		return decodeLegacy(b)
	}
	return decodeCurrent(b)
}

func (c Codec) decodeCommand(b byte) Frame {
	sel := b >> 4
	if sel == 0 || !logic.Channel(sel-1).Valid() {
		return Frame{}
	}
	low := b & 0x0F
	var state bool
	if c.Layout == LayoutLegacy {
		state = low&0x01 == 1
	} else {
		if low > 1 {
			return Frame{}
		}
		state = low == 1
	}
	return Frame{Kind: KindCommand, Channel: logic.Channel(sel - 1), State: state}
}

func decodeCurrent(b []byte) Frame {
	switch b[0] {
	case TypeWelcome:
		if len(b) < 3 || b[1] != TypeSwitchBot {
			return Frame{}
		}
		f := Frame{
			Kind:     KindWelcome,
			DeviceID: string(b[3:]),
			Battery:  b[2] & 0x0F,
		}
		f.States[logic.ChannelUp] = b[2]>>6&0x03 == 1
		f.States[logic.ChannelDown] = b[2]>>4&0x03 == 1
		return f
	case TypeStateChange:
		return decodeStateByte(b[1])
	}
	return Frame{}
}

func decodeLegacy(b []byte) Frame {
	if b[0] != TypeSwitchBot || len(b) < 3 {
		return Frame{}
	}
	switch b[1] {
	case TypeWelcome:
		return Frame{
			Kind:     KindWelcome,
			DeviceID: string(b[3:]),
			Battery:  b[2],
		}
	case TypeStateChange:
		return decodeStateByte(b[2])
	}
	return Frame{}
}

func decodeStateByte(v byte) Frame {
	ch := logic.Channel(v >> 6)
	state := v >> 4 & 0x03
	if !ch.Valid() || state > 1 {
		return Frame{}
	}
	return Frame{
		Kind:    KindStateChange,
		Channel: ch,
		State:   state == 1,
		Battery: v & 0x0F,
	}
}
