package stats

import (
	"context"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/game"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	s, err := NewStore(context.Background(), db, 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSummary(ended time.Time) game.Summary {
	start := ended.Add(-40 * time.Minute)
	return game.Summary{
		GameID:    7,
		Name:      "dota -ap",
		Map:       "DotA v6.83d.w3x",
		Creator:   "Alice",
		CreatedAt: start.Add(-5 * time.Minute),
		StartedAt: start,
		LoadedAt:  start.Add(time.Minute),
		EndedAt:   ended,
		Winner:    1,
		Players: []game.PlayerSummary{
			{PID: 2, Name: "Alice", IP: "10.0.0.2", Team: 0, Colour: 1, Reserved: true, JoinedAt: start, LeftAt: ended, LeftReason: "has left the game voluntarily"},
			{PID: 3, Name: "Bob", IP: "10.0.0.3", Team: 1, Colour: 7, GProxy: true, JoinedAt: start, LeftAt: ended, LeftReason: "has left the game voluntarily"},
		},
		Stats: &game.TrackerResults{
			Winner:   1,
			Duration: 38 * time.Minute,
			Players: map[uint8]map[string]int{
				1: {"kills": 12, "deaths": 3},
			},
		},
	}
}

func waitSaved(t *testing.T, h game.SaveHandle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !h.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("save did not complete")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := h.Err(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSaveAndLoadGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ended := time.Unix(1_700_000_000, 0).UTC()

	h := s.BeginSave(testSummary(ended))
	waitSaved(t, h)

	games, err := s.RecentGames(ctx, 10)
	if err != nil {
		t.Fatalf("RecentGames: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("expected 1 game, got %d", len(games))
	}
	g := games[0]
	if g.Name != "dota -ap" || g.HostCounter != 7 || g.Winner != 1 {
		t.Errorf("unexpected game record: %+v", g)
	}
	if g.Duration != 40*time.Minute {
		t.Errorf("expected duration 40m, got %s", g.Duration)
	}
	if !g.EndedAt.Equal(ended) {
		t.Errorf("expected ended_at %s, got %s", ended, g.EndedAt)
	}

	full, err := s.Game(ctx, g.ID)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if len(full.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(full.Players))
	}
	alice := full.Players[0]
	if alice.Name != "Alice" || !alice.Reserved || alice.Stats["kills"] != 12 {
		t.Errorf("unexpected player record: %+v", alice)
	}
	bob := full.Players[1]
	if !bob.GProxy || bob.Stats != nil {
		t.Errorf("unexpected player record: %+v", bob)
	}

	if _, err := s.Game(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPlayerHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	waitSaved(t, s.BeginSave(testSummary(base)))
	waitSaved(t, s.BeginSave(testSummary(base.Add(2*time.Hour))))

	hist, err := s.PlayerHistory(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("PlayerHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if !hist[0].JoinedAt.After(hist[1].JoinedAt) {
		t.Error("expected newest game first")
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	waitSaved(t, s.BeginSave(testSummary(base)))
	waitSaved(t, s.BeginSave(testSummary(base.Add(48*time.Hour))))

	n, err := s.PruneBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned game, got %d", n)
	}

	hist, err := s.PlayerHistory(ctx, "Bob", 10)
	if err != nil {
		t.Fatalf("PlayerHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Errorf("expected players of pruned game to cascade, got %d entries", len(hist))
	}
}

func TestBans(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	ctx := context.Background()
	s, err := NewStore(ctx, db, 1)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if _, banned := s.IsBanned("mallory"); banned {
		t.Fatal("expected empty ban list")
	}
	if err := s.AddBan(ctx, "Mallory", "map hack", "Alice"); err != nil {
		t.Fatalf("AddBan: %v", err)
	}
	reason, banned := s.IsBanned("MALLORY")
	if !banned || reason != "map hack" {
		t.Errorf("expected ban with reason, got %q %v", reason, banned)
	}

	// The cache must survive a reload from the table.
	if err := s.loadBans(ctx); err != nil {
		t.Fatalf("loadBans: %v", err)
	}
	if _, banned := s.IsBanned("mallory"); !banned {
		t.Error("ban lost after reload")
	}
	if got := s.Bans(); len(got) != 1 {
		t.Errorf("expected 1 ban, got %d", len(got))
	}

	removed, err := s.RemoveBan(ctx, "mallory")
	if err != nil || !removed {
		t.Fatalf("RemoveBan: %v %v", removed, err)
	}
	if _, banned := s.IsBanned("mallory"); banned {
		t.Error("expected ban lifted")
	}
	removed, _ = s.RemoveBan(ctx, "mallory")
	if removed {
		t.Error("expected second removal to report nothing removed")
	}
}
