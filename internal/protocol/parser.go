package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// JoinRequest is the parsed payload of REQJOIN (0x1E).
type JoinRequest struct {
	HostCounter  uint32
	EntryKey     uint32
	ListenPort   uint16
	PeerKey      uint32
	Name         string
	InternalPort uint16
	InternalIP   net.IP
}

// Chat is the parsed payload of CHAT_TO_HOST (0x28). Depending on the
// flag either Message or Value is meaningful.
type Chat struct {
	To         []uint8
	From       uint8
	Flag       byte
	Message    string
	Value      byte
	ExtraFlags uint32
}

// ParseJoinRequest parses REQJOIN.
// Format: [host counter:4][entry key:4][?:1][listen port:2][peer key:4][name:null_str][?:4][internal port:2][internal ip:4]
func ParseJoinRequest(payload []byte) (*JoinRequest, error) {
	r := bytes.NewReader(payload)
	req := &JoinRequest{}
	var unknown8 uint8
	var unknown32 uint32

	if err := binary.Read(r, binary.LittleEndian, &req.HostCounter); err != nil {
		return nil, fmt.Errorf("failed to parse host counter: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.EntryKey); err != nil {
		return nil, fmt.Errorf("failed to parse entry key: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &unknown8); err != nil {
		return nil, fmt.Errorf("failed to parse join request: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.ListenPort); err != nil {
		return nil, fmt.Errorf("failed to parse listen port: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.PeerKey); err != nil {
		return nil, fmt.Errorf("failed to parse peer key: %w", err)
	}
	name, err := readNullString(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse player name: %w", err)
	}
	req.Name = name
	if err := binary.Read(r, binary.LittleEndian, &unknown32); err != nil {
		return nil, fmt.Errorf("failed to parse join request: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.InternalPort); err != nil {
		return nil, fmt.Errorf("failed to parse internal port: %w", err)
	}
	ip := make([]byte, 4)
	if _, err := io.ReadFull(r, ip); err != nil {
		return nil, fmt.Errorf("failed to parse internal ip: %w", err)
	}
	req.InternalIP = net.IPv4(ip[0], ip[1], ip[2], ip[3])

	return req, nil
}

// ParseLeaveGame parses LEAVEGAME (0x21) and returns the reason code.
func ParseLeaveGame(payload []byte) (uint32, error) {
	return parseUint32(payload, "leave reason")
}

// ParseOutgoingAction parses OUTGOING_ACTION (0x26).
// Format: [crc:4][action data]
func ParseOutgoingAction(payload []byte) (crc uint32, data []byte, err error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("failed to parse action crc: %w", ErrShortPayload)
	}
	data = make([]byte, len(payload)-4)
	copy(data, payload[4:])
	return binary.LittleEndian.Uint32(payload[:4]), data, nil
}

// ParseKeepalive parses OUTGOING_KEEPALIVE (0x27) and returns the checksum.
// Format: [?:1][checksum:4]
func ParseKeepalive(payload []byte) (uint32, error) {
	if len(payload) < 5 {
		return 0, fmt.Errorf("failed to parse keepalive checksum: %w", ErrShortPayload)
	}
	return binary.LittleEndian.Uint32(payload[1:5]), nil
}

// ParseChat parses CHAT_TO_HOST (0x28). CHAT_FROM_HOST shares the layout.
// Format: [n:1][n × to pid][from:1][flag:1][flag specific]
func ParseChat(payload []byte) (*Chat, error) {
	r := bytes.NewReader(payload)
	var n uint8
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to parse chat recipients: %w", err)
	}
	c := &Chat{To: make([]uint8, n)}
	if _, err := io.ReadFull(r, c.To); err != nil {
		return nil, fmt.Errorf("failed to parse chat recipients: %w", err)
	}
	if r.Len() < 2 {
		return nil, fmt.Errorf("failed to parse chat header: %w", ErrShortPayload)
	}
	c.From, _ = r.ReadByte()
	c.Flag, _ = r.ReadByte()

	switch c.Flag {
	case ChatMessage:
		msg, err := readNullString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chat message: %w", err)
		}
		c.Message = msg
	case ChatTeamChange, ChatColourChange, ChatRaceChange, ChatHandicapChange:
		v, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to parse chat value: %w", ErrShortPayload)
		}
		c.Value = v
	case ChatMessageExtended:
		if err := binary.Read(r, binary.LittleEndian, &c.ExtraFlags); err != nil {
			return nil, fmt.Errorf("failed to parse chat extra flags: %w", err)
		}
		msg, err := readNullString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chat message: %w", err)
		}
		c.Message = msg
	default:
		return nil, fmt.Errorf("unknown chat flag: %d", c.Flag)
	}
	return c, nil
}

// ParseMapSize parses MAPSIZE (0x42).
// Format: [?:4][size flag:1][map size:4]
func ParseMapSize(payload []byte) (sizeFlag uint8, size uint32, err error) {
	if len(payload) < 9 {
		return 0, 0, fmt.Errorf("failed to parse map size: %w", ErrShortPayload)
	}
	return payload[4], binary.LittleEndian.Uint32(payload[5:9]), nil
}

// ParsePong parses PONG_TO_HOST (0x46) and returns the echoed ticks.
func ParsePong(payload []byte) (uint32, error) {
	return parseUint32(payload, "pong")
}

// ParseIncomingAction parses INCOMING_ACTION (0x0C) or INCOMING_ACTION2
// (0x48) back into its actions.
func ParseIncomingAction(payload []byte) (interval uint16, actions []Action, err error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("failed to parse action interval: %w", ErrShortPayload)
	}
	interval = binary.LittleEndian.Uint16(payload)
	if len(payload) == 2 {
		return interval, nil, nil
	}
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("failed to parse action crc: %w", ErrShortPayload)
	}
	block := payload[4:]
	if actionCRC(block) != binary.LittleEndian.Uint16(payload[2:4]) {
		return 0, nil, fmt.Errorf("action block crc mismatch")
	}
	for len(block) > 0 {
		if len(block) < 3 {
			return 0, nil, fmt.Errorf("failed to parse action header: %w", ErrShortPayload)
		}
		n := int(binary.LittleEndian.Uint16(block[1:3]))
		if len(block) < 3+n {
			return 0, nil, fmt.Errorf("failed to parse action data: %w", ErrShortPayload)
		}
		actions = append(actions, Action{PID: block[0], Data: block[3 : 3+n]})
		block = block[3+n:]
	}
	return interval, actions, nil
}

// ParseStartLag parses START_LAG (0x10).
func ParseStartLag(payload []byte) ([]LagEntry, error) {
	if len(payload) < 1 || len(payload) < 1+int(payload[0])*5 {
		return nil, fmt.Errorf("failed to parse lag entries: %w", ErrShortPayload)
	}
	out := make([]LagEntry, payload[0])
	for i := range out {
		p := payload[1+i*5:]
		out[i] = LagEntry{PID: p[0], LagMS: binary.LittleEndian.Uint32(p[1:5])}
	}
	return out, nil
}

func parseUint32(payload []byte, what string) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("failed to parse %s: %w", what, ErrShortPayload)
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// readNullString reads bytes up to and excluding a zero terminator.
func readNullString(r *bytes.Reader) (string, error) {
	var sb bytes.Buffer
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", ErrShortPayload
		}
		if c == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}
