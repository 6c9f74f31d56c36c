package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// PacketBuilder constructs frames. The header is reserved on creation and
// its length field patched by Build.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder starts a frame with the given magic and message type.
func NewPacketBuilder(magic, msgType byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Write([]byte{magic, msgType, 0, 0})
	return b
}

// NewGameBuilder starts a game protocol frame.
func NewGameBuilder(msgType byte) *PacketBuilder {
	return NewPacketBuilder(MagicGame, msgType)
}

// NewGPSBuilder starts a reconnect protocol frame.
func NewGPSBuilder(msgType byte) *PacketBuilder {
	return NewPacketBuilder(MagicGPS, msgType)
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes 1 or 0.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint16BE writes a uint16 in network order. Socket addresses use it.
func (b *PacketBuilder) WriteUint16BE(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteNullString writes a null-terminated string.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteZeros writes n zero bytes.
func (b *PacketBuilder) WriteZeros(n int) *PacketBuilder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteIP writes an IPv4 address as four raw bytes. Non-IPv4 input writes zeros.
func (b *PacketBuilder) WriteIP(ip net.IP) *PacketBuilder {
	v4 := ip.To4()
	if v4 == nil {
		return b.WriteZeros(4)
	}
	return b.WriteBytes(v4)
}

// WriteSockAddr writes the 16 byte sockaddr_in layout clients expect.
func (b *PacketBuilder) WriteSockAddr(port uint16, ip net.IP) *PacketBuilder {
	b.WriteUint16(2) // AF_INET
	b.WriteUint16BE(port)
	b.WriteIP(ip)
	return b.WriteZeros(8)
}

// Build patches the length field and returns the frame bytes.
func (b *PacketBuilder) Build() []byte {
	data := b.buf.Bytes()
	binary.LittleEndian.PutUint16(data[2:4], uint16(len(data)))
	return data
}

// Len returns the current size of the frame being built, header included.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
