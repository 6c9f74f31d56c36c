package game

import (
	"bytes"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// only keeps the message types in want, preserving order.
func only(types []byte, want ...byte) []byte {
	var out []byte
	for _, t := range types {
		if bytes.IndexByte(want, t) >= 0 {
			out = append(out, t)
		}
	}
	return out
}

// pong keeps every connection fresh so the idle timeout does not fire.
func (h *harness) pong() {
	for _, st := range h.streams {
		st.feed(protocol.BuildPongToHost(0))
	}
}

func TestLoadingKeepaliveRealignsFinishedLoaders(t *testing.T) {
	h := newHarness(t, testMap(3, maps.Options{}), Config{LatencyMS: 100}, Collaborators{})
	a := h.join("alice")
	b := h.join("bob")
	h.join("carol")
	h.ready()
	h.countdown()
	pa, pb, pc := h.player("alice"), h.player("bob"), h.player("carol")

	a.feed(protocol.BuildGameLoadedSelf())
	h.update()
	a.reset()
	b.reset()

	for i := 0; i < 2; i++ {
		h.pong()
		h.advance(10 * time.Second)
	}
	h.pong()
	h.advance(LoadingKeepalive - 20*time.Second - time.Millisecond)
	if len(a.framesOfType(protocol.IncomingAction)) != 0 {
		t.Fatal("keep-alive sent early")
	}

	h.advance(time.Millisecond)
	got := only(a.types(protocol.MagicGame), protocol.StopLag, protocol.IncomingAction, protocol.StartLag)
	want := []byte{protocol.StopLag, protocol.StopLag, protocol.IncomingAction, protocol.StartLag}
	if !bytes.Equal(got, want) {
		t.Fatalf("keep-alive sequence = %x, want %x", got, want)
	}
	lag, err := protocol.ParseStartLag(a.framesOfType(protocol.StartLag)[0][protocol.HeaderSize:])
	if err != nil {
		t.Fatalf("ParseStartLag: %v", err)
	}
	if len(lag) != 2 || lag[0].PID != pb.PID || lag[1].PID != pc.PID || lag[0].LagMS < 30000 {
		t.Fatalf("loaders = %+v", lag)
	}
	if len(b.framesOfType(protocol.IncomingAction)) != 0 {
		t.Fatal("loading player got a keep-alive")
	}
	if pa.ignoreKeepalives != 1 {
		t.Fatalf("ignoreKeepalives = %d", pa.ignoreKeepalives)
	}

	// the answer to the keep-alive is not counted
	a.feed(protocol.BuildOutgoingKeepalive(5))
	h.update()
	if pa.ignoreKeepalives != 0 || pa.syncCounter != 0 || len(pa.checksums) != 0 {
		t.Fatalf("keep-alive answer counted: sync %d, queued %d", pa.syncCounter, len(pa.checksums))
	}

	h.streams["bob"].feed(protocol.BuildGameLoadedSelf())
	h.streams["carol"].feed(protocol.BuildGameLoadedSelf())
	h.update()
	if h.s.State() != StateRunning {
		t.Fatalf("state = %s", h.s.State())
	}
	for _, st := range h.streams {
		st.feed(protocol.BuildOutgoingKeepalive(7))
	}
	h.update()
	if len(h.s.Players()) != 3 {
		t.Fatal("realigned loader evicted as desynced")
	}
}

// lagBob lets alice run ahead until bob trails past the sync limit.
func lagBob(t *testing.T, h *harness) {
	t.Helper()
	for i := 0; i < 52; i++ {
		h.streams["alice"].feed(protocol.BuildOutgoingKeepalive(0))
		h.advance(100 * time.Millisecond)
	}
	if !h.s.lagging || !h.player("bob").Lagging() {
		t.Fatal("bob should be lagging")
	}
}

func TestLagScreenRefresh(t *testing.T) {
	h := startedGame(t, Config{LatencyMS: 100, SyncLimit: 50}, "alice", "bob")
	a := h.streams["alice"]
	lagBob(t, h)
	start := h.s.lastLagScreen
	counter := h.s.syncCounter
	a.reset()

	h.now = start.Add(LagScreenRefresh - time.Second)
	h.update()
	if len(a.framesOfType(protocol.IncomingAction)) != 0 {
		t.Fatal("lag screen refreshed early")
	}

	h.now = start.Add(LagScreenRefresh)
	h.update()
	got := only(a.types(protocol.MagicGame), protocol.StopLag, protocol.IncomingAction, protocol.StartLag)
	if !bytes.Equal(got, []byte{protocol.StopLag, protocol.IncomingAction, protocol.StartLag}) {
		t.Fatalf("refresh sequence = %x", got)
	}
	_, actions, err := protocol.ParseIncomingAction(a.framesOfType(protocol.IncomingAction)[0][protocol.HeaderSize:])
	if err != nil || len(actions) != 0 {
		t.Fatalf("refresh carried actions %+v (%v)", actions, err)
	}
	lag, err := protocol.ParseStartLag(a.framesOfType(protocol.StartLag)[0][protocol.HeaderSize:])
	if err != nil || len(lag) != 1 || lag[0].PID != h.player("bob").PID {
		t.Fatalf("laggers = %+v (%v)", lag, err)
	}
	if h.s.syncCounter != counter+1 || !h.s.lastLagScreen.Equal(h.now) {
		t.Fatal("refresh did not advance the sync counter")
	}
	if !h.s.lagging {
		t.Fatal("refresh ended the lag")
	}
}

func TestLagScreenRefreshExtendedForReconnectClients(t *testing.T) {
	cfg := Config{LatencyMS: 100, SyncLimit: 50, GProxy: true, GraceActions: 2}
	h := startedGame(t, cfg, "alice", "bob")
	a := h.streams["alice"]
	enableGProxy(h, "alice")
	lagBob(t, h)
	start := h.s.lastLagScreen
	a.reset()

	h.now = start.Add(LagScreenRefresh)
	h.update()
	if len(a.framesOfType(protocol.IncomingAction)) != 0 {
		t.Fatal("refreshed at the plain interval despite a reconnect client")
	}

	window := 3 * ReconnectWindowPerStep
	h.now = start.Add(window - time.Second)
	h.update()
	if len(a.framesOfType(protocol.IncomingAction)) != 0 {
		t.Fatal("refreshed before the reconnect window")
	}
	h.now = start.Add(window)
	h.update()
	if len(a.framesOfType(protocol.IncomingAction)) != 1 || len(a.framesOfType(protocol.StartLag)) != 1 {
		t.Fatal("lag screen not refreshed at the reconnect window")
	}
}

func TestDesyncSkipsDisconnectedPlayer(t *testing.T) {
	h := startedGame(t, Config{GProxy: true, LatencyMS: 100}, "alice", "bob", "carol")
	p := enableGProxy(h, "alice")
	old := h.streams["alice"]
	old.remoteClosed = true
	h.update()
	if !p.Disconnected() {
		t.Fatal("alice should be waiting to reconnect")
	}

	for i := 0; i < 3; i++ {
		h.streams["bob"].feed(protocol.BuildOutgoingKeepalive(1))
		h.streams["carol"].feed(protocol.BuildOutgoingKeepalive(1))
		h.update()
	}
	if n := len(h.player("bob").checksums); n != 0 {
		t.Fatalf("bob has %d checksums queued behind a disconnected player", n)
	}

	fresh := newMemStream(old.ip, h.now)
	req := &protocol.ReconnectRequest{PID: p.PID, Key: p.gproxyKey}
	if err := h.s.TryReconnect(req, fresh, h.now); err != nil {
		t.Fatalf("TryReconnect: %v", err)
	}
	h.streams["alice"] = fresh

	// keepalives for rounds judged while away are dropped, even if they differ
	for i := 0; i < 3; i++ {
		fresh.feed(protocol.BuildOutgoingKeepalive(9))
	}
	h.update()
	if len(h.s.Players()) != 3 || len(p.checksums) != 0 {
		t.Fatalf("stale rounds compared: players %d, alice queued %d", len(h.s.Players()), len(p.checksums))
	}

	for _, st := range h.streams {
		st.feed(protocol.BuildOutgoingKeepalive(2))
	}
	h.update()
	if len(h.s.Players()) != 3 {
		t.Fatal("player evicted after realigned round")
	}
	for _, pl := range h.s.Players() {
		if len(pl.checksums) != 0 {
			t.Fatalf("%s still has checksums queued", pl.Name)
		}
	}

	fresh.feed(protocol.BuildOutgoingKeepalive(3))
	h.streams["bob"].feed(protocol.BuildOutgoingKeepalive(2))
	h.streams["carol"].feed(protocol.BuildOutgoingKeepalive(2))
	h.update()
	if h.s.PlayerByName("alice") != nil {
		t.Fatal("desync after reconnect not detected")
	}
}
