// Package protocol implements the binary framing and the message payloads
// exchanged between the host and game clients. Every frame starts with a
// four byte header [magic][type][length lo][length hi]; the length is
// little-endian and counts the header itself.
package protocol

// Header magic bytes.
const (
	MagicGame byte = 0xF7 // game protocol frames
	MagicGPS  byte = 0xF8 // reconnect protocol frames
)

// HeaderSize is the size of every frame header.
const HeaderSize = 4

// MaxFrameSize is the largest frame the 16-bit length can describe.
const MaxFrameSize = 65535

// Game protocol message types.
const (
	PingFromHost       byte = 0x01
	SlotInfoJoin       byte = 0x04
	RejectJoin         byte = 0x05
	PlayerInfo         byte = 0x06
	PlayerLeaveOthers  byte = 0x07
	GameLoadedOthers   byte = 0x08
	SlotInfo           byte = 0x09
	CountdownStart     byte = 0x0A
	CountdownEnd       byte = 0x0B
	IncomingAction     byte = 0x0C
	ChatFromHost       byte = 0x0F
	StartLag           byte = 0x10
	StopLag            byte = 0x11
	ReqJoin            byte = 0x1E
	LeaveGame          byte = 0x21
	GameLoadedSelf     byte = 0x23
	OutgoingAction     byte = 0x26
	OutgoingKeepalive  byte = 0x27
	ChatToHost         byte = 0x28
	DropReq            byte = 0x29
	SearchGame         byte = 0x2F
	GameInfo           byte = 0x30
	CreateGame         byte = 0x31
	RefreshGame        byte = 0x32
	DecreateGame       byte = 0x33
	MapCheck           byte = 0x3D
	StartDownload      byte = 0x3F
	MapSize            byte = 0x42
	MapPart            byte = 0x43
	PongToHost         byte = 0x46
	IncomingAction2    byte = 0x48
)

// Reconnect protocol message types.
const (
	GPSInit      byte = 0x01
	GPSReconnect byte = 0x02
	GPSAck       byte = 0x03
	GPSReject    byte = 0x04
)

// Reject reasons sent in REJECTJOIN.
const (
	RejectFull          uint32 = 9
	RejectStarted       uint32 = 10
	RejectWrongPassword uint32 = 27
)

// Reconnect reject reasons sent in GPS_REJECT.
const (
	GPSRejectInvalid  uint32 = 1
	GPSRejectNotFound uint32 = 2
)

// Leave codes carried in PLAYERLEAVE_OTHERS and LEAVEGAME.
const (
	LeaveDisconnect uint32 = 1
	LeaveLost       uint32 = 7
	LeaveLostBuild  uint32 = 8
	LeaveWon        uint32 = 9
	LeaveDraw       uint32 = 10
	LeaveObserver   uint32 = 11
	LeaveLobby      uint32 = 13
)

// Chat flags carried in CHAT_TO_HOST and CHAT_FROM_HOST.
const (
	ChatMessage         byte = 16
	ChatTeamChange      byte = 17
	ChatColourChange    byte = 18
	ChatRaceChange      byte = 19
	ChatHandicapChange  byte = 20
	ChatMessageExtended byte = 32
)

// Chat extra flags for in-game messages.
const (
	ChatToAll       uint32 = 0
	ChatToAllies    uint32 = 1
	ChatToObservers uint32 = 2
)

// MaxActionBatch is the largest action block one INCOMING_ACTION carries.
const MaxActionBatch = 1452

// MapPartSize is the largest chunk one MAPPART carries.
const MapPartSize = 1442

// Product identifiers for LAN advertisements.
const (
	ProductTFT uint32 = 0x57335850 // "PX3W"
	ProductROC uint32 = 0x57415233 // "3RAW"
)

// Frame is one complete frame extracted from a byte stream.
type Frame struct {
	Magic byte
	Type  byte
	// Data holds the complete frame including its header.
	Data []byte
}

// Payload returns the bytes following the header.
func (f *Frame) Payload() []byte {
	return f.Data[HeaderSize:]
}

// IsGPS reports whether the frame belongs to the reconnect protocol.
func (f *Frame) IsGPS() bool {
	return f.Magic == MagicGPS
}
