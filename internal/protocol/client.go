package protocol

import "net"

// Frames a game client sends. The host never emits these; they exist for
// probes and for driving sessions in tests.

// BuildReqJoin creates REQJOIN (0x1E).
func BuildReqJoin(hostCounter, entryKey uint32, name string, internalIP net.IP) []byte {
	b := NewGameBuilder(ReqJoin)
	b.WriteUint32(hostCounter)
	b.WriteUint32(entryKey)
	b.WriteByte(0)
	b.WriteUint16(6112)
	b.WriteUint32(0)
	b.WriteNullString(name)
	b.WriteUint32(0)
	b.WriteUint16(6112)
	b.WriteIP(internalIP)
	return b.Build()
}

// BuildLeaveGame creates LEAVEGAME (0x21).
func BuildLeaveGame(reason uint32) []byte {
	return NewGameBuilder(LeaveGame).WriteUint32(reason).Build()
}

// BuildGameLoadedSelf creates GAMELOADED_SELF (0x23).
func BuildGameLoadedSelf() []byte {
	return NewGameBuilder(GameLoadedSelf).Build()
}

// BuildOutgoingAction creates OUTGOING_ACTION (0x26).
func BuildOutgoingAction(crc uint32, data []byte) []byte {
	return NewGameBuilder(OutgoingAction).WriteUint32(crc).WriteBytes(data).Build()
}

// BuildOutgoingKeepalive creates OUTGOING_KEEPALIVE (0x27).
func BuildOutgoingKeepalive(checksum uint32) []byte {
	return NewGameBuilder(OutgoingKeepalive).WriteByte(0).WriteUint32(checksum).Build()
}

// BuildChatToHost creates CHAT_TO_HOST (0x28) with a lobby message.
func BuildChatToHost(from uint8, to []uint8, message string) []byte {
	b := NewGameBuilder(ChatToHost)
	b.WriteByte(uint8(len(to))).WriteBytes(to).WriteByte(from).WriteByte(ChatMessage)
	return b.WriteNullString(message).Build()
}

// BuildChatToHostChange creates CHAT_TO_HOST carrying a team, colour, race
// or handicap request.
func BuildChatToHostChange(from uint8, flag, value byte) []byte {
	b := NewGameBuilder(ChatToHost)
	return b.WriteByte(1).WriteByte(0).WriteByte(from).WriteByte(flag).WriteByte(value).Build()
}

// BuildDropReq creates DROPREQ (0x29).
func BuildDropReq() []byte {
	return NewGameBuilder(DropReq).Build()
}

// BuildMapSize creates MAPSIZE (0x42).
func BuildMapSize(sizeFlag uint8, size uint32) []byte {
	return NewGameBuilder(MapSize).WriteUint32(1).WriteByte(sizeFlag).WriteUint32(size).Build()
}

// BuildPongToHost creates PONG_TO_HOST (0x46).
func BuildPongToHost(ticks uint32) []byte {
	return NewGameBuilder(PongToHost).WriteUint32(ticks).Build()
}

// BuildSearchGame creates SEARCHGAME (0x2F).
func BuildSearchGame(product, version uint32) []byte {
	return NewGameBuilder(SearchGame).WriteUint32(product).WriteUint32(version).WriteUint32(0).Build()
}

// BuildGPSInitRequest creates the GPS_INIT a reconnect-capable client sends.
func BuildGPSInitRequest(version uint32) []byte {
	return NewGPSBuilder(GPSInit).WriteUint32(version).Build()
}

// BuildGPSReconnectRequest creates GPS_RECONNECT.
func BuildGPSReconnectRequest(pid uint8, key, lastPacket uint32) []byte {
	return NewGPSBuilder(GPSReconnect).WriteByte(pid).WriteUint32(key).WriteUint32(lastPacket).Build()
}
