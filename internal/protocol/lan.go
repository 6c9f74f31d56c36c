package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// GameAdvert describes a lobby as advertised to LAN clients.
type GameAdvert struct {
	Product     uint32
	Version     uint32
	HostCounter uint32
	EntryKey    uint32
	GameName    string
	StatString  []byte // raw, encoded on the wire
	SlotsTotal  uint32
	GameType    uint32
	SlotsOpen   uint32
	UpTime      uint32
	Port        uint16
}

// StatString describes the map inside GAMEINFO.
type StatString struct {
	MapFlags  uint32
	MapWidth  uint16
	MapHeight uint16
	MapCRC    uint32
	MapPath   string
	HostName  string
	MapSHA1   [20]byte
}

// Bytes serializes the stat string before encoding.
func (s StatString) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, s.MapFlags)
	buf.WriteByte(0)
	binary.Write(&buf, binary.LittleEndian, s.MapWidth)
	binary.Write(&buf, binary.LittleEndian, s.MapHeight)
	binary.Write(&buf, binary.LittleEndian, s.MapCRC)
	buf.WriteString(s.MapPath)
	buf.WriteByte(0)
	buf.WriteString(s.HostName)
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.Write(s.MapSHA1[:])
	return buf.Bytes()
}

// EncodeStatString applies the null-free encoding used for stat strings:
// every block of up to seven bytes is preceded by a mask byte whose bit i+1
// is set when byte i was odd. Even bytes are incremented so no zero can
// appear.
func EncodeStatString(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/7+1)
	for start := 0; start < len(data); start += 7 {
		end := min(start+7, len(data))
		mask := byte(1)
		block := make([]byte, 0, 7)
		for i, c := range data[start:end] {
			if c%2 == 0 {
				block = append(block, c+1)
			} else {
				block = append(block, c)
				mask |= 1 << (i + 1)
			}
		}
		out = append(out, mask)
		out = append(out, block...)
	}
	return out
}

// DecodeStatString reverses EncodeStatString.
func DecodeStatString(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for start := 0; start < len(data); start += 8 {
		mask := data[start]
		end := min(start+8, len(data))
		for i, c := range data[start+1 : end] {
			if mask&(1<<(i+1)) == 0 {
				out = append(out, c-1)
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}

// BuildGameInfo creates GAMEINFO (0x30).
func BuildGameInfo(g GameAdvert) []byte {
	b := NewGameBuilder(GameInfo)
	b.WriteUint32(g.Product)
	b.WriteUint32(g.Version)
	b.WriteUint32(g.HostCounter)
	b.WriteUint32(g.EntryKey)
	b.WriteNullString(g.GameName)
	b.WriteByte(0)
	b.WriteBytes(EncodeStatString(g.StatString))
	b.WriteByte(0)
	b.WriteUint32(g.SlotsTotal)
	b.WriteUint32(g.GameType)
	b.WriteUint32(1)
	b.WriteUint32(g.SlotsOpen)
	b.WriteUint32(g.UpTime)
	b.WriteUint16(g.Port)
	return b.Build()
}

// BuildCreateGame creates CREATEGAME (0x31).
func BuildCreateGame(product, version, hostCounter uint32) []byte {
	return NewGameBuilder(CreateGame).WriteUint32(product).WriteUint32(version).WriteUint32(hostCounter).Build()
}

// BuildRefreshGame creates REFRESHGAME (0x32).
func BuildRefreshGame(hostCounter, players, slots uint32) []byte {
	return NewGameBuilder(RefreshGame).WriteUint32(hostCounter).WriteUint32(players).WriteUint32(slots).Build()
}

// BuildDecreateGame creates DECREATEGAME (0x33).
func BuildDecreateGame(hostCounter uint32) []byte {
	return NewGameBuilder(DecreateGame).WriteUint32(hostCounter).Build()
}

// ParseSearchGame parses SEARCHGAME (0x2F).
// Format: [product:4][version:4][0:4]
func ParseSearchGame(payload []byte) (product, version uint32, err error) {
	if len(payload) < 8 {
		return 0, 0, fmt.Errorf("failed to parse search game: %w", ErrShortPayload)
	}
	return binary.LittleEndian.Uint32(payload[0:4]), binary.LittleEndian.Uint32(payload[4:8]), nil
}
