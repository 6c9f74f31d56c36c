package protocol

import (
	"encoding/binary"
	"fmt"
)

// ReconnectRequest is the parsed payload of GPS_RECONNECT sent by a client
// that lost its game connection.
type ReconnectRequest struct {
	PID        uint8
	Key        uint32
	LastPacket uint32
}

// BuildGPSInit answers a client's GPS_INIT with the reconnect parameters.
// Format: [reconnect port:2][pid:1][key:4][grace actions:1]
func BuildGPSInit(reconnectPort uint16, pid uint8, key uint32, graceActions uint8) []byte {
	b := NewGPSBuilder(GPSInit)
	b.WriteUint16(reconnectPort)
	b.WriteByte(pid)
	b.WriteUint32(key)
	b.WriteByte(graceActions)
	return b.Build()
}

// BuildGPSReconnect acknowledges an accepted reconnect with the number of
// frames the host has received from the player.
func BuildGPSReconnect(received uint32) []byte {
	return NewGPSBuilder(GPSReconnect).WriteUint32(received).Build()
}

// BuildGPSAck creates GPS_ACK.
func BuildGPSAck(lastPacket uint32) []byte {
	return NewGPSBuilder(GPSAck).WriteUint32(lastPacket).Build()
}

// BuildGPSReject creates GPS_REJECT.
func BuildGPSReject(reason uint32) []byte {
	return NewGPSBuilder(GPSReject).WriteUint32(reason).Build()
}

// ParseGPSReconnect parses GPS_RECONNECT.
// Format: [pid:1][key:4][last packet:4]
func ParseGPSReconnect(payload []byte) (*ReconnectRequest, error) {
	if len(payload) < 9 {
		return nil, fmt.Errorf("failed to parse reconnect request: %w", ErrShortPayload)
	}
	return &ReconnectRequest{
		PID:        payload[0],
		Key:        binary.LittleEndian.Uint32(payload[1:5]),
		LastPacket: binary.LittleEndian.Uint32(payload[5:9]),
	}, nil
}

// ParseGPSAck parses GPS_ACK.
func ParseGPSAck(payload []byte) (uint32, error) {
	return parseUint32(payload, "gps ack")
}

// ParseGPSReject parses GPS_REJECT.
func ParseGPSReject(payload []byte) (uint32, error) {
	return parseUint32(payload, "gps reject")
}
