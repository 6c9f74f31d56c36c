package protocol

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"net"
	"testing"
)

func sampleStream() []byte {
	var s []byte
	s = append(s, BuildPingFromHost(12345)...)
	s = append(s, BuildReqJoin(1, 2, "alice", net.IPv4(10, 0, 0, 2))...)
	s = append(s, BuildGPSAck(7)...)
	s = append(s, BuildCountdownStart()...)
	s = append(s, BuildIncomingAction(100, []Action{{PID: 1, Data: []byte{1, 2, 3}}, {PID: 2, Data: bytes.Repeat([]byte{9}, 300)}})...)
	s = append(s, BuildChatFromHost(1, []uint8{2, 3}, "hello")...)
	return s
}

func frameTypes(frames []*Frame) []byte {
	out := make([]byte, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestExtractAllWhole(t *testing.T) {
	buf := sampleStream()
	frames, err := ExtractAll(&buf)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	want := []byte{PingFromHost, ReqJoin, GPSAck, CountdownStart, IncomingAction, ChatFromHost}
	if !bytes.Equal(frameTypes(frames), want) {
		t.Fatalf("types = %x, want %x", frameTypes(frames), want)
	}
	if len(buf) != 0 {
		t.Fatalf("%d bytes left in buffer", len(buf))
	}
	if !frames[2].IsGPS() || frames[0].IsGPS() {
		t.Fatal("magic not preserved")
	}
}

func TestExtractIsRestartableAcrossChunks(t *testing.T) {
	stream := sampleStream()
	whole := append([]byte(nil), stream...)
	want, _ := ExtractAll(&whole)

	r := rand.New(rand.NewPCG(11, 12))
	for trial := 0; trial < 200; trial++ {
		var buf []byte
		var got []*Frame
		for pos := 0; pos < len(stream); {
			n := 1 + r.IntN(40)
			end := min(pos+n, len(stream))
			buf = append(buf, stream[pos:end]...)
			pos = end
			frames, err := ExtractAll(&buf)
			if err != nil {
				t.Fatalf("trial %d: %v", trial, err)
			}
			got = append(got, frames...)
		}
		if len(got) != len(want) {
			t.Fatalf("trial %d: %d frames, want %d", trial, len(got), len(want))
		}
		for i := range got {
			if !bytes.Equal(got[i].Data, want[i].Data) {
				t.Fatalf("trial %d: frame %d differs", trial, i)
			}
		}
	}
}

func TestExtractIncompleteLeavesBuffer(t *testing.T) {
	frame := BuildPingFromHost(1)
	buf := append([]byte(nil), frame[:6]...)
	f, err := ExtractFrame(&buf)
	if f != nil || err != nil {
		t.Fatalf("got %v, %v; want nothing", f, err)
	}
	if !bytes.Equal(buf, frame[:6]) {
		t.Fatal("buffer modified by incomplete extraction")
	}
	short := []byte{MagicGame, 0x01}
	if f, err := ExtractFrame(&short); f != nil || err != nil {
		t.Fatal("extracted from fewer than four bytes")
	}
}

func TestExtractFramingErrors(t *testing.T) {
	bad := []byte{0x10, 0x01, 0x08, 0x00, 0, 0, 0, 0}
	if _, err := ExtractFrame(&bad); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("err = %v, want ErrBadHeader", err)
	}
	short := []byte{MagicGame, 0x01, 0x03, 0x00}
	if _, err := ExtractFrame(&short); !errors.Is(err, ErrBadLength) {
		t.Fatalf("err = %v, want ErrBadLength", err)
	}

	buf := append(BuildCountdownEnd(), 0x00, 0x00, 0x00, 0x00)
	frames, err := ExtractAll(&buf)
	if len(frames) != 1 || !errors.Is(err, ErrBadHeader) {
		t.Fatalf("got %d frames, err %v", len(frames), err)
	}
}

func TestBuilderPatchesLength(t *testing.T) {
	data := NewGameBuilder(ChatFromHost).WriteNullString("abc").WriteUint32(5).Build()
	if got := int(data[2]) | int(data[3])<<8; got != len(data) {
		t.Fatalf("length field = %d, want %d", got, len(data))
	}
	if data[0] != MagicGame || data[1] != ChatFromHost {
		t.Fatalf("header = %x", data[:2])
	}
}
