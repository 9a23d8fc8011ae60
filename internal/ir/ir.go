// Package ir turns NEC infrared remote commands into switch state requests.
//
// Demodulation is left to the kernel's rc-core; this package consumes the
// decoded scancodes. The command byte encodes the target:
//
//	bits 7-6  channel selector (1 = up, 2 = down, 3 = reserved)
//	bits 5-4  state (0 = off, 1 = on)
//	bits 3-0  unused, must be zero
package ir

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/switch-bot/internal/logic"
)

// ErrUnsupportedChannel is returned for the reserved third channel selector.
var ErrUnsupportedChannel = errors.New("ir: unsupported channel")

// ErrInvalidCommand is returned for command bytes that do not encode a
// channel and state.
var ErrInvalidCommand = errors.New("ir: invalid command")

// Scancode is one decoded NEC frame.
type Scancode struct {
	Address uint16
	Command uint8
	// Repeat is set for the repeat codes sent while a button is held.
	Repeat bool
}

// DecodeCommand extracts the channel and target state from an NEC command.
func DecodeCommand(cmd uint8) (logic.Channel, bool, error) {
	state := cmd >> 4 & 0x03
	if state > 1 || cmd&0x0F != 0 {
		return 0, false, fmt.Errorf("%w: 0x%02x", ErrInvalidCommand, cmd)
	}
	switch cmd >> 6 {
	case 1:
		return logic.ChannelUp, state == 1, nil
	case 2:
		return logic.ChannelDown, state == 1, nil
	case 3:
		return 0, false, fmt.Errorf("%w: 0x%02x", ErrUnsupportedChannel, cmd)
	}
	return 0, false, fmt.Errorf("%w: 0x%02x", ErrInvalidCommand, cmd)
}

// EncodeCommand builds the command byte that DecodeCommand accepts.
func EncodeCommand(ch logic.Channel, on bool) uint8 {
	cmd := uint8(ch+1) << 6
	if on {
		cmd |= 1 << 4
	}
	return cmd
}

// Source delivers scancodes. Read blocks until one arrives; Close unblocks
// a pending Read.
type Source interface {
	Read() (Scancode, error)
	Close() error
}

// Producer feeds IR commands into the switch store.
type Producer struct {
	source  Source
	store   *logic.Store
	address uint16
	now     func() time.Time
}

// NewProducer creates a producer. Frames whose address differs from address
// are ignored; an address of 0 accepts every remote.
func NewProducer(source Source, store *logic.Store, address uint16, now func() time.Time) *Producer {
	if now == nil {
		now = time.Now
	}
	return &Producer{source: source, store: store, address: address, now: now}
}

// Handle applies one scancode and reports whether it changed the desired
// state.
func (p *Producer) Handle(sc Scancode) bool {
	fields := log.Fields{"address": sc.Address, "command": fmt.Sprintf("0x%02x", sc.Command)}
	if sc.Repeat {
		return false
	}
	if p.address != 0 && sc.Address != p.address {
		log.WithFields(fields).Debug("ignoring IR frame for another address")
		return false
	}
	ch, on, err := DecodeCommand(sc.Command)
	if err != nil {
		log.WithFields(fields).Debugf("ignoring IR frame: %v", err)
		return false
	}
	if !p.store.RequestChange(ch, on, p.now(), logic.SourceIR) {
		return false
	}
	log.WithFields(fields).WithField("channel", ch).Infof("IR command: %s", logic.StateOf(on))
	return true
}

// Run reads scancodes until ctx is done or the source fails.
func (p *Producer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { p.source.Close() })
	defer stop()

	for {
		sc, err := p.source.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read ir: %w", err)
		}
		p.Handle(sc)
	}
}
