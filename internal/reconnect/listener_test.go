package reconnect

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

type fakeStream struct {
	in, buf  []byte
	sent     [][]byte
	closed   bool
	lastRecv time.Time
}

func (f *fakeStream) DoRecv(now time.Time) {
	if len(f.in) > 0 {
		f.buf = append(f.buf, f.in...)
		f.in = nil
		f.lastRecv = now
	}
}

func (f *fakeStream) RecvBuffer() *[]byte  { return &f.buf }
func (f *fakeStream) Send(data []byte)     { f.sent = append(f.sent, data) }
func (f *fakeStream) DoSend() (int, error) { return 0, nil }
func (f *fakeStream) Err() error           { return nil }
func (f *fakeStream) RemoteClosed() bool   { return false }
func (f *fakeStream) LastRecv() time.Time  { return f.lastRecv }
func (f *fakeStream) RemoteIP() net.IP     { return net.IPv4(127, 0, 0, 1) }

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeAcceptor struct{ queue []network.Stream }

func (a *fakeAcceptor) Accept() (network.Stream, bool) {
	if len(a.queue) == 0 {
		return nil, false
	}
	s := a.queue[0]
	a.queue = a.queue[1:]
	return s, true
}

func (a *fakeAcceptor) Port() uint16 { return 6113 }
func (a *fakeAcceptor) Close() error { return nil }

// resolver accepts pid 3 with key 42 only.
type resolver struct{ got []*protocol.ReconnectRequest }

func (r *resolver) Reconnect(req *protocol.ReconnectRequest, _ network.Stream, _ time.Time) error {
	r.got = append(r.got, req)
	switch {
	case req.PID != 3:
		return game.ErrReconnectNotFound
	case req.Key != 42:
		return game.ErrReconnectInvalid
	}
	return nil
}

func rejectReason(t *testing.T, f *fakeStream) uint32 {
	t.Helper()
	if len(f.sent) != 1 || f.sent[0][1] != protocol.GPSReject {
		t.Fatalf("sent = %x", f.sent)
	}
	return binary.LittleEndian.Uint32(f.sent[0][protocol.HeaderSize:])
}

func TestReconnectOutcomes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ok := &fakeStream{in: protocol.BuildGPSReconnectRequest(3, 42, 10)}
	badKey := &fakeStream{in: protocol.BuildGPSReconnectRequest(3, 41, 10)}
	unknown := &fakeStream{in: protocol.BuildGPSReconnectRequest(9, 42, 10)}
	acc := &fakeAcceptor{queue: []network.Stream{ok, badKey, unknown}}
	r := &resolver{}

	l := NewListener(acc)
	l.Update(now, r)

	if ok.closed || len(ok.sent) != 0 {
		t.Fatal("accepted stream must be handed off untouched")
	}
	if rejectReason(t, badKey) != protocol.GPSRejectInvalid || !badKey.closed {
		t.Fatal("bad key not rejected as invalid")
	}
	if rejectReason(t, unknown) != protocol.GPSRejectNotFound || !unknown.closed {
		t.Fatal("unknown pid not rejected as not found")
	}
	if l.Pending() != 0 {
		t.Fatalf("pending = %d", l.Pending())
	}
	if a, rj := l.Stats(); a != 1 || rj != 2 {
		t.Fatalf("stats = %d/%d", a, rj)
	}
	if r.got[0].LastPacket != 10 {
		t.Fatalf("last packet = %d", r.got[0].LastPacket)
	}
}

func TestReconnectHandshakeTimeout(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	idle := &fakeStream{in: protocol.BuildPingFromHost(1)}
	l := NewListener(&fakeAcceptor{queue: []network.Stream{idle}})
	r := &resolver{}

	l.Update(now, r)
	if l.Pending() != 1 || idle.closed {
		t.Fatal("non-reconnect frames must be ignored, not fatal")
	}
	l.Update(now.Add(HandshakeTimeout), r)
	if l.Pending() != 0 || !idle.closed {
		t.Fatal("silent connection not dropped after the handshake timeout")
	}
	if len(r.got) != 0 {
		t.Fatal("resolver called without a request")
	}
}
