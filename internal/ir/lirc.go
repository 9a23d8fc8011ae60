package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kernel rc-core protocol numbers for the NEC variants.
const (
	protoNEC   = 19
	protoNECX  = 20
	protoNEC32 = 21
)

// scancodeRecordSize is sizeof(struct lirc_scancode).
const scancodeRecordSize = 24

const flagRepeat = 0x02

// lircScancode mirrors struct lirc_scancode from <linux/lirc.h>.
type lircScancode struct {
	Timestamp uint64
	Flags     uint16
	RCProto   uint16
	Keycode   uint32
	Scancode  uint64
}

// parseScancode decodes one lirc_scancode record. Non-NEC frames report
// ok=false.
func parseScancode(b []byte) (Scancode, bool, error) {
	if len(b) != scancodeRecordSize {
		return Scancode{}, false, fmt.Errorf("short lirc record: %d bytes", len(b))
	}
	var rec lircScancode
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &rec); err != nil {
		return Scancode{}, false, fmt.Errorf("decode lirc record: %w", err)
	}
	switch rec.RCProto {
	case protoNEC, protoNECX, protoNEC32:
	default:
		return Scancode{}, false, nil
	}
	return Scancode{
		Address: uint16(rec.Scancode >> 8),
		Command: uint8(rec.Scancode),
		Repeat:  rec.Flags&flagRepeat != 0,
	}, true, nil
}
