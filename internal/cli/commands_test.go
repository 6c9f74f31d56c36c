package cli

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/host"
	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/stats"
)

type nopAcceptor struct{}

func (nopAcceptor) Accept() (network.Stream, bool) { return nil, false }
func (nopAcceptor) Port() uint16                   { return 6112 }
func (nopAcceptor) Close() error                   { return nil }

func newTestCLI(t *testing.T, quit func()) (*CLI, *host.Host, *bytes.Buffer) {
	t.Helper()

	cfg := config.DefaultConfig()
	m := &maps.Map{Name: "test", Path: `Maps\test.w3x`, Size: 3000}
	for i := 0; i < 2; i++ {
		m.Slots = append(m.Slots, maps.SlotDef{Status: "open", Team: uint8(i), Colour: uint8(i), Race: "human"})
	}

	db, err := stats.OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	store, err := stats.NewStore(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	h := host.New(host.Options{
		Config:  cfg,
		Maps:    map[string]*maps.Map{"test": m},
		Persist: store,
		Bans:    store,
		Listen: func(ctx context.Context, port int) (game.Acceptor, error) {
			return nopAcceptor{}, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})

	var out bytes.Buffer
	return NewCLI(h, store, quit, strings.NewReader(""), &out), h, &out
}

func TestUnknownCommand(t *testing.T) {
	c, _, out := newTestCLI(t, nil)
	if err := c.execute(context.Background(), "frobnicate", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("expected unknown command notice, got %q", out.String())
	}
}

func TestUsageErrors(t *testing.T) {
	c, _, _ := newTestCLI(t, nil)
	for _, cmd := range []string{"players", "create", "start", "end", "chat", "kick", "ban", "unban"} {
		if err := c.execute(context.Background(), cmd, nil); !errors.Is(err, errUsage) {
			t.Errorf("%s: expected usage error, got %v", cmd, err)
		}
	}
}

func TestBanCommands(t *testing.T) {
	c, _, out := newTestCLI(t, nil)
	ctx := context.Background()

	if err := c.execute(ctx, "ban", []string{"Griefer", "map", "hacking"}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	out.Reset()
	if err := c.execute(ctx, "bans", nil); err != nil {
		t.Fatalf("bans: %v", err)
	}
	if !strings.Contains(out.String(), "map hacking") {
		t.Errorf("ban reason missing from listing: %q", out.String())
	}

	out.Reset()
	if err := c.execute(ctx, "unban", []string{"griefer"}); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if !strings.Contains(out.String(), "Unbanned") {
		t.Errorf("expected unban confirmation, got %q", out.String())
	}
	out.Reset()
	if err := c.execute(ctx, "unban", []string{"griefer"}); err != nil {
		t.Fatalf("second unban: %v", err)
	}
	if !strings.Contains(out.String(), "was not banned") {
		t.Errorf("expected not-banned notice, got %q", out.String())
	}
}

func TestCreateListAndEnd(t *testing.T) {
	c, h, out := newTestCLI(t, nil)
	ctx := context.Background()

	if err := c.execute(ctx, "create", []string{"test", "console", "game"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.Status().Games) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("game never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	out.Reset()
	c.execute(ctx, "games", nil)
	if !strings.Contains(out.String(), "console game") {
		t.Errorf("game missing from listing: %q", out.String())
	}

	id := h.Status().Games[0].ID
	if err := c.execute(ctx, "end", []string{strconv.FormatUint(uint64(id), 10)}); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := c.execute(ctx, "end", []string{"999"}); !errors.Is(err, host.ErrNoSuchGame) {
		t.Errorf("expected ErrNoSuchGame, got %v", err)
	}
}

func TestQuitAndInputEnd(t *testing.T) {
	called := false
	c, _, _ := newTestCLI(t, func() { called = true })
	c.in = strings.NewReader("help\nquit\n")

	finished := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return at end of input")
	}
	if !called {
		t.Error("quit callback was not invoked")
	}
}
