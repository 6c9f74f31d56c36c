package protocol

import (
	"hash/crc32"
	"net"
)

// Action is one player action as relayed to every client.
type Action struct {
	PID  uint8
	Data []byte
}

// Len is the encoded size of the action inside an action block.
func (a Action) Len() int {
	return 3 + len(a.Data)
}

// LagEntry names a lagging player in START_LAG.
type LagEntry struct {
	PID   uint8
	LagMS uint32
}

// BuildPingFromHost creates PING_FROM_HOST (0x01).
func BuildPingFromHost(ticks uint32) []byte {
	return NewGameBuilder(PingFromHost).WriteUint32(ticks).Build()
}

// BuildSlotInfoJoin creates SLOTINFOJOIN (0x04), the join acceptance.
// Format: [len:2][slot layout][pid:1][sockaddr:16]
func BuildSlotInfoJoin(layout []byte, pid uint8, port uint16, externalIP net.IP) []byte {
	b := NewGameBuilder(SlotInfoJoin)
	b.WriteUint16(uint16(len(layout)))
	b.WriteBytes(layout)
	b.WriteByte(pid)
	b.WriteSockAddr(port, externalIP)
	return b.Build()
}

// BuildRejectJoin creates REJECTJOIN (0x05).
func BuildRejectJoin(reason uint32) []byte {
	return NewGameBuilder(RejectJoin).WriteUint32(reason).Build()
}

// BuildPlayerInfo creates PLAYERINFO (0x06).
// Format: [join counter:4][pid:1][name:null_str][1][0][ext sockaddr:16][int sockaddr:16]
func BuildPlayerInfo(pid uint8, name string, externalIP, internalIP net.IP) []byte {
	b := NewGameBuilder(PlayerInfo)
	b.WriteUint32(2)
	b.WriteByte(pid)
	b.WriteNullString(name)
	b.WriteByte(1)
	b.WriteByte(0)
	b.WriteSockAddr(0, externalIP)
	b.WriteSockAddr(0, internalIP)
	return b.Build()
}

// BuildPlayerLeaveOthers creates PLAYERLEAVE_OTHERS (0x07).
func BuildPlayerLeaveOthers(pid uint8, leftCode uint32) []byte {
	return NewGameBuilder(PlayerLeaveOthers).WriteByte(pid).WriteUint32(leftCode).Build()
}

// BuildGameLoadedOthers creates GAMELOADED_OTHERS (0x08).
func BuildGameLoadedOthers(pid uint8) []byte {
	return NewGameBuilder(GameLoadedOthers).WriteByte(pid).Build()
}

// BuildSlotInfo creates SLOTINFO (0x09).
func BuildSlotInfo(layout []byte) []byte {
	return NewGameBuilder(SlotInfo).WriteUint16(uint16(len(layout))).WriteBytes(layout).Build()
}

// BuildCountdownStart creates COUNTDOWN_START (0x0A).
func BuildCountdownStart() []byte {
	return NewGameBuilder(CountdownStart).Build()
}

// BuildCountdownEnd creates COUNTDOWN_END (0x0B).
func BuildCountdownEnd() []byte {
	return NewGameBuilder(CountdownEnd).Build()
}

// EncodeActions serializes an action block.
func EncodeActions(actions []Action) []byte {
	var n int
	for _, a := range actions {
		n += a.Len()
	}
	out := make([]byte, 0, n)
	for _, a := range actions {
		out = append(out, a.PID, byte(len(a.Data)), byte(len(a.Data)>>8))
		out = append(out, a.Data...)
	}
	return out
}

func actionCRC(block []byte) uint16 {
	return uint16(crc32.ChecksumIEEE(block))
}

// BuildIncomingAction creates INCOMING_ACTION (0x0C). An empty batch is
// encoded as the interval alone.
// Format: [interval:2] or [interval:2][crc:2][actions]
func BuildIncomingAction(interval uint16, actions []Action) []byte {
	b := NewGameBuilder(IncomingAction).WriteUint16(interval)
	if len(actions) > 0 {
		block := EncodeActions(actions)
		b.WriteUint16(actionCRC(block))
		b.WriteBytes(block)
	}
	return b.Build()
}

// BuildIncomingAction2 creates INCOMING_ACTION2 (0x48), used for overflow
// batches that precede the final INCOMING_ACTION of a tick.
func BuildIncomingAction2(actions []Action) []byte {
	block := EncodeActions(actions)
	b := NewGameBuilder(IncomingAction2).WriteUint16(0)
	b.WriteUint16(actionCRC(block))
	b.WriteBytes(block)
	return b.Build()
}

// BuildChatFromHost creates CHAT_FROM_HOST (0x0F) carrying a lobby message.
func BuildChatFromHost(from uint8, to []uint8, message string) []byte {
	b := chatHeader(from, to, ChatMessage)
	b.WriteNullString(message)
	return b.Build()
}

// BuildChatFromHostInGame creates CHAT_FROM_HOST carrying an in-game message.
func BuildChatFromHostInGame(from uint8, to []uint8, extraFlags uint32, message string) []byte {
	b := chatHeader(from, to, ChatMessageExtended)
	b.WriteUint32(extraFlags)
	b.WriteNullString(message)
	return b.Build()
}

func chatHeader(from uint8, to []uint8, flag byte) *PacketBuilder {
	b := NewGameBuilder(ChatFromHost)
	b.WriteByte(uint8(len(to)))
	b.WriteBytes(to)
	b.WriteByte(from)
	b.WriteByte(flag)
	return b
}

// BuildStartLag creates START_LAG (0x10).
func BuildStartLag(laggers []LagEntry) []byte {
	b := NewGameBuilder(StartLag).WriteByte(uint8(len(laggers)))
	for _, l := range laggers {
		b.WriteByte(l.PID).WriteUint32(l.LagMS)
	}
	return b.Build()
}

// BuildStopLag creates STOP_LAG (0x11).
func BuildStopLag(pid uint8, lagMS uint32) []byte {
	return NewGameBuilder(StopLag).WriteByte(pid).WriteUint32(lagMS).Build()
}

// MapInfo identifies the map clients must own before the game can start.
type MapInfo struct {
	Path string
	Size uint32
	Info uint32
	CRC  uint32
	SHA1 [20]byte
}

// BuildMapCheck creates MAPCHECK (0x3D).
func BuildMapCheck(m MapInfo) []byte {
	b := NewGameBuilder(MapCheck)
	b.WriteUint32(1)
	b.WriteNullString(m.Path)
	b.WriteUint32(m.Size)
	b.WriteUint32(m.Info)
	b.WriteUint32(m.CRC)
	b.WriteBytes(m.SHA1[:])
	return b.Build()
}

// BuildStartDownload creates STARTDOWNLOAD (0x3F).
func BuildStartDownload(fromPID uint8) []byte {
	return NewGameBuilder(StartDownload).WriteUint32(1).WriteByte(fromPID).Build()
}

// BuildMapPart creates MAPPART (0x43) for the chunk of data starting at
// offset. At most MapPartSize bytes are sent.
func BuildMapPart(toPID, fromPID uint8, offset uint32, data []byte) []byte {
	if len(data) > MapPartSize {
		data = data[:MapPartSize]
	}
	b := NewGameBuilder(MapPart)
	b.WriteByte(toPID)
	b.WriteByte(fromPID)
	b.WriteUint32(1)
	b.WriteUint32(offset)
	b.WriteUint32(crc32.ChecksumIEEE(data))
	b.WriteBytes(data)
	return b.Build()
}
