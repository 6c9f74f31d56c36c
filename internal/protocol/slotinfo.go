package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/energizer-project/relayhost/internal/slot"
)

// SlotLayout is the serialized form of a slot table as broadcast in SLOTINFO
// and SLOTINFOJOIN.
type SlotLayout struct {
	Slots       slot.Table
	RandomSeed  uint32
	LayoutStyle uint8
	PlayerSlots uint8
}

// EncodeSlotLayout serializes a slot table.
// Format: [n:1][n × slot:9][seed:4][layout:1][player slots:1]
func EncodeSlotLayout(l SlotLayout) []byte {
	var buf bytes.Buffer
	buf.WriteByte(uint8(len(l.Slots)))
	for _, s := range l.Slots {
		computer := byte(0)
		if s.Computer {
			computer = 1
		}
		buf.Write([]byte{s.PID, s.Download, byte(s.Status), computer, s.Team, s.Colour, byte(s.Race), byte(s.Skill), s.Handicap})
	}
	binary.Write(&buf, binary.LittleEndian, l.RandomSeed)
	buf.WriteByte(l.LayoutStyle)
	buf.WriteByte(l.PlayerSlots)
	return buf.Bytes()
}

// DecodeSlotLayout parses the output of EncodeSlotLayout.
func DecodeSlotLayout(data []byte) (SlotLayout, error) {
	var l SlotLayout
	if len(data) < 1 {
		return l, fmt.Errorf("failed to parse slot count: %w", ErrShortPayload)
	}
	n := int(data[0])
	if len(data) < 1+n*slot.EncodedSize+6 {
		return l, fmt.Errorf("failed to parse %d slots: %w", n, ErrShortPayload)
	}
	l.Slots = make(slot.Table, n)
	p := data[1:]
	for i := 0; i < n; i++ {
		b := p[i*slot.EncodedSize : (i+1)*slot.EncodedSize]
		l.Slots[i] = slot.Slot{
			PID:      b[0],
			Download: b[1],
			Status:   slot.Status(b[2]),
			Computer: b[3] == 1,
			Team:     b[4],
			Colour:   b[5],
			Race:     slot.Race(b[6]),
			Skill:    slot.Skill(b[7]),
			Handicap: b[8],
		}
	}
	tail := p[n*slot.EncodedSize:]
	l.RandomSeed = binary.LittleEndian.Uint32(tail[0:4])
	l.LayoutStyle = tail[4]
	l.PlayerSlots = tail[5]
	return l, nil
}
