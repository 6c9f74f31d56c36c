package host

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

type fakeAcceptor struct {
	closed atomic.Bool
	queue  []network.Stream
}

func (a *fakeAcceptor) Accept() (network.Stream, bool) {
	if len(a.queue) == 0 {
		return nil, false
	}
	s := a.queue[0]
	a.queue = a.queue[1:]
	return s, true
}

func (a *fakeAcceptor) Port() uint16 { return 6112 }

func (a *fakeAcceptor) Close() error {
	a.closed.Store(true)
	return nil
}

func testMaps() map[string]*maps.Map {
	m := &maps.Map{Name: "test", Path: `Maps\test.w3x`, Size: 3000}
	for i := 0; i < 4; i++ {
		m.Slots = append(m.Slots, maps.SlotDef{Status: "open", Team: uint8(i % 2), Colour: uint8(i), Race: "human"})
	}
	return map[string]*maps.Map{"test": m}
}

func newTestHost(t *testing.T) (*Host, *[]*fakeAcceptor) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Host.DefaultMap = "test"
	cfg.Host.MaxGames = 2

	var listeners []*fakeAcceptor
	h := New(Options{
		Config: cfg,
		Maps:   testMaps(),
		Listen: func(ctx context.Context, port int) (game.Acceptor, error) {
			a := &fakeAcceptor{}
			listeners = append(listeners, a)
			return a, nil
		},
	})
	return h, &listeners
}

func TestQueueGameCreateValidation(t *testing.T) {
	h, _ := newTestHost(t)

	if err := h.QueueGameCreate(GameRequest{Name: "  "}); !errors.Is(err, ErrBadGameName) {
		t.Errorf("expected ErrBadGameName, got %v", err)
	}
	if err := h.QueueGameCreate(GameRequest{Name: "g", Map: "nope"}); !errors.Is(err, ErrUnknownMap) {
		t.Errorf("expected ErrUnknownMap, got %v", err)
	}
	if err := h.QueueGameCreate(GameRequest{Name: "g"}); err != nil {
		t.Fatalf("expected default map to be used, got %v", err)
	}

	h.update(time.Now())
	if len(h.sessions) != 1 {
		t.Fatalf("expected queued game to be created, got %d sessions", len(h.sessions))
	}
	if h.sessions[0].ID() != 1 {
		t.Errorf("expected host counter 1, got %d", h.sessions[0].ID())
	}
}

func TestSingleLobby(t *testing.T) {
	h, _ := newTestHost(t)
	now := time.Now()

	if _, err := h.CreateGame(GameRequest{Name: "first"}, now); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := h.CreateGame(GameRequest{Name: "second"}, now); !errors.Is(err, ErrLobbyExists) {
		t.Errorf("expected ErrLobbyExists, got %v", err)
	}
	if h.Lobby() == nil || h.Lobby().Name() != "first" {
		t.Error("expected first game to be the lobby")
	}
}

func TestClosedLobbyIsRemoved(t *testing.T) {
	h, listeners := newTestHost(t)
	now := time.Now()

	s, err := h.CreateGame(GameRequest{Name: "closing"}, now)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	s.Close("test")
	h.update(now.Add(time.Millisecond))

	if len(h.sessions) != 0 {
		t.Fatalf("expected closed lobby to be removed, got %d sessions", len(h.sessions))
	}
	if !(*listeners)[0].closed.Load() {
		t.Error("expected lobby listener to be closed")
	}
	if _, err := h.Session(s.ID()); !errors.Is(err, ErrNoSuchGame) {
		t.Errorf("expected ErrNoSuchGame, got %v", err)
	}
}

func TestReconnectWithoutRunningGames(t *testing.T) {
	h, _ := newTestHost(t)
	if _, err := h.CreateGame(GameRequest{Name: "lobby"}, time.Now()); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	err := h.Reconnect(&protocol.ReconnectRequest{PID: 2, Key: 1}, nil, time.Now())
	if !errors.Is(err, game.ErrReconnectNotFound) {
		t.Errorf("expected ErrReconnectNotFound, got %v", err)
	}
}

func TestRunDoAndShutdown(t *testing.T) {
	h, listeners := newTestHost(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	var id uint32
	err := h.Do(context.Background(), func(h *Host) error {
		s, err := h.CreateGame(GameRequest{Name: "via do", Public: true}, time.Now())
		if err != nil {
			return err
		}
		id = s.ID()
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	err = h.Do(context.Background(), func(h *Host) error {
		_, err := h.CreateGame(GameRequest{Name: "again"}, time.Now())
		return err
	})
	if !errors.Is(err, ErrLobbyExists) {
		t.Errorf("expected error to propagate through Do, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if g, ok := h.Game(id); ok {
			if g.Name != "via do" || g.State != "lobby" {
				t.Errorf("unexpected snapshot: %+v", g)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never published")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if !(*listeners)[0].closed.Load() {
		t.Error("expected lobby listener to be closed on shutdown")
	}
	if got := len(h.Status().Games); got != 0 {
		t.Errorf("expected no games after shutdown, got %d", got)
	}
	if err := h.Do(context.Background(), func(*Host) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after shutdown, got %v", err)
	}
}

func TestListenReconnect(t *testing.T) {
	h, listeners := newTestHost(t)
	if err := h.ListenReconnect(context.Background(), 6114); err != nil {
		t.Fatalf("ListenReconnect: %v", err)
	}
	if got := h.sessionConfig().ReconnectPort; got != 6112 {
		t.Errorf("expected reconnect port from listener, got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()
	<-done

	if !(*listeners)[0].closed.Load() {
		t.Error("expected reconnect listener to be closed on shutdown")
	}
}

// fakeStream is an in-memory network.Stream.
type fakeStream struct {
	ip       net.IP
	in, buf  []byte
	sent     [][]byte
	lastRecv time.Time
}

func (f *fakeStream) feed(frame []byte) { f.in = append(f.in, frame...) }

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
func (f *fakeStream) RemoteIP() net.IP     { return f.ip }
func (f *fakeStream) Close() error         { return nil }

// reconnectKey returns the key announced to the player in GPS_INIT.
func (f *fakeStream) reconnectKey(t *testing.T) uint32 {
	t.Helper()
	for _, frame := range f.sent {
		if frame[0] == protocol.MagicGPS && frame[1] == protocol.GPSInit {
			// [port:2][pid:1][key:4]
			return binary.LittleEndian.Uint32(frame[protocol.HeaderSize+3:])
		}
	}
	t.Fatal("no GPS_INIT sent")
	return 0
}

// runningGame creates a game, seats a reconnect-capable alice and bob in it
// and drives it until the game is running.
func runningGame(t *testing.T, h *Host, listeners *[]*fakeAcceptor, name string, now time.Time) (*game.Session, *fakeStream) {
	t.Helper()
	s, err := h.CreateGame(GameRequest{Name: name}, now)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	acc := (*listeners)[len(*listeners)-1]

	var streams []*fakeStream
	for i, player := range []string{"alice", "bob"} {
		ip := net.IPv4(10, byte(s.ID()), 0, byte(i+2))
		st := &fakeStream{ip: ip, lastRecv: now}
		st.feed(protocol.BuildReqJoin(s.ID(), s.EntryKey(), player, ip))
		acc.queue = append(acc.queue, st)
		streams = append(streams, st)
	}
	h.update(now)
	for _, st := range streams {
		st.feed(protocol.BuildMapSize(1, 3000))
	}
	h.update(now)

	if err := s.StartCountdown(true, now); err != nil {
		t.Fatalf("StartCountdown: %v", err)
	}
	for i := 0; i < game.CountdownTicks; i++ {
		now = now.Add(game.CountdownInterval)
		h.update(now)
	}
	for _, st := range streams {
		st.feed(protocol.BuildGameLoadedSelf())
		st.feed(protocol.BuildGPSInitRequest(1))
	}
	h.update(now)
	if s.State() != game.StateRunning {
		t.Fatalf("game %q is %s, want running", name, s.State())
	}
	return s, streams[0]
}

func TestReconnectAcrossGamesSharingPIDs(t *testing.T) {
	h, listeners := newTestHost(t)
	if err := h.ListenReconnect(context.Background(), 6114); err != nil {
		t.Fatalf("ListenReconnect: %v", err)
	}
	now := time.Now()

	first, firstStream := runningGame(t, h, listeners, "first", now)
	now = now.Add(time.Minute)
	second, secondStream := runningGame(t, h, listeners, "second", now)

	a1, a2 := first.PlayerByName("alice"), second.PlayerByName("alice")
	if a1.PID != a2.PID {
		t.Fatalf("expected alice to share a pid across games, got %d and %d", a1.PID, a2.PID)
	}
	key1, key2 := firstStream.reconnectKey(t), secondStream.reconnectKey(t)
	if key1 == key2 {
		t.Skip("both games drew the same reconnect key")
	}

	wrong := key1 + 1
	for wrong == key1 || wrong == key2 {
		wrong++
	}
	fresh := &fakeStream{ip: net.IPv4(10, 9, 9, 9), lastRecv: now}
	err := h.Reconnect(&protocol.ReconnectRequest{PID: a2.PID, Key: wrong}, fresh, now)
	if !errors.Is(err, game.ErrReconnectInvalid) {
		t.Fatalf("expected ErrReconnectInvalid for an unknown key, got %v", err)
	}
	if len(fresh.sent) != 0 {
		t.Fatal("rejected reconnect was answered on the stream")
	}

	err = h.Reconnect(&protocol.ReconnectRequest{PID: a2.PID, Key: key2}, fresh, now)
	if err != nil {
		t.Fatalf("expected the second game to accept its key, got %v", err)
	}
	if a2.Stream() != network.Stream(fresh) {
		t.Error("second game's alice not attached to the new stream")
	}
	if a1.Stream() != network.Stream(firstStream) {
		t.Error("first game's alice lost its stream")
	}
	if len(fresh.sent) == 0 || fresh.sent[0][1] != protocol.GPSReconnect {
		t.Error("expected GPS_RECONNECT as the first frame")
	}
}
