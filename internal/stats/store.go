package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/game"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

const saveTimeout = 30 * time.Second

// GameRecord is a persisted game.
type GameRecord struct {
	ID          string         `json:"id"`
	HostCounter uint32         `json:"host_counter"`
	Name        string         `json:"name"`
	Map         string         `json:"map"`
	Creator     string         `json:"creator"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Duration    time.Duration  `json:"duration"`
	Winner      uint8          `json:"winner"`
	Players     []PlayerRecord `json:"players,omitempty"`
}

// PlayerRecord is one participant of a persisted game.
type PlayerRecord struct {
	GameID     string         `json:"game_id"`
	PID        uint8          `json:"pid"`
	Name       string         `json:"name"`
	IP         string         `json:"ip"`
	Team       uint8          `json:"team"`
	Colour     uint8          `json:"colour"`
	Reserved   bool           `json:"reserved"`
	GProxy     bool           `json:"gproxy"`
	JoinedAt   time.Time      `json:"joined_at"`
	LeftAt     time.Time      `json:"left_at"`
	LeftReason string         `json:"left_reason"`
	Stats      map[string]int `json:"stats,omitempty"`
}

// Store implements game.Persistence and game.BanList.
type Store struct {
	db      *Database
	workers sizedwaitgroup.SizedWaitGroup
	logger  zerolog.Logger

	bansMu sync.RWMutex
	bans   map[string]Ban
}

// NewStore migrates the schema and loads the ban list. At most maxWorkers
// saves run concurrently.
func NewStore(ctx context.Context, db *Database, maxWorkers int) (*Store, error) {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	s := &Store{
		db:      db,
		workers: sizedwaitgroup.New(maxWorkers),
		logger:  log.With().Str("component", "stats").Logger(),
		bans:    make(map[string]Ban),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate stats database: %w", err)
	}
	if err := s.loadBans(ctx); err != nil {
		return nil, fmt.Errorf("failed to load bans: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			host_counter INTEGER NOT NULL,
			name TEXT NOT NULL,
			map TEXT NOT NULL,
			creator TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			winner INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS players (
			game_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			name TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			team INTEGER NOT NULL,
			colour INTEGER NOT NULL,
			reserved INTEGER NOT NULL DEFAULT 0,
			gproxy INTEGER NOT NULL DEFAULT 0,
			joined_at INTEGER NOT NULL,
			left_at INTEGER NOT NULL,
			left_reason TEXT NOT NULL DEFAULT '',
			stats TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (game_id, pid),
			FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS bans (
			name TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			banned_by TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_games_ended_at ON games(ended_at);
		CREATE INDEX IF NOT EXISTS idx_players_name ON players(name);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.logger.Debug().Msg("database schema migrated")
	return nil
}

// saveHandle reports completion of an asynchronous save.
type saveHandle struct {
	done chan struct{}
	id   string
	err  error
}

func (h *saveHandle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *saveHandle) Err() error {
	if !h.Ready() {
		return nil
	}
	return h.err
}

// ID is the record id the game is stored under.
func (h *saveHandle) ID() string { return h.id }

// BeginSave writes sum on a worker goroutine and returns immediately.
func (s *Store) BeginSave(sum game.Summary) game.SaveHandle {
	h := &saveHandle{done: make(chan struct{}), id: uuid.New().String()}
	s.workers.Add()
	go func() {
		defer s.workers.Done()
		defer close(h.done)

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		h.err = s.save(ctx, h.id, sum)
		if h.err != nil {
			s.logger.Error().Err(h.err).Str("game", sum.Name).Msg("failed to save game")
			return
		}
		s.logger.Info().Str("id", h.id).Str("game", sum.Name).Int("players", len(sum.Players)).Msg("game saved")
	}()
	return h
}

// Wait blocks until every pending save has finished.
func (s *Store) Wait() {
	s.workers.Wait()
}

func (s *Store) save(ctx context.Context, id string, sum game.Summary) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO games (id, host_counter, name, map, creator, created_at, started_at, ended_at, duration_ms, winner)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sum.GameID, sum.Name, sum.Map, sum.Creator,
			unix(sum.CreatedAt), unix(sum.StartedAt), unix(sum.EndedAt), sum.Duration().Milliseconds(), sum.Winner)
		if err != nil {
			return fmt.Errorf("failed to insert game: %w", err)
		}

		for _, p := range sum.Players {
			var stats string
			if sum.Stats != nil {
				if ps, ok := sum.Stats.Players[p.Colour]; ok {
					b, err := json.Marshal(ps)
					if err != nil {
						return fmt.Errorf("failed to encode stats: %w", err)
					}
					stats = string(b)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO players (game_id, pid, name, ip, team, colour, reserved, gproxy, joined_at, left_at, left_reason, stats)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, p.PID, p.Name, p.IP, p.Team, p.Colour, p.Reserved, p.GProxy,
				unix(p.JoinedAt), unix(p.LeftAt), p.LeftReason, stats)
			if err != nil {
				return fmt.Errorf("failed to insert player %s: %w", p.Name, err)
			}
		}
		return nil
	})
}

// RecentGames returns the most recently finished games without players.
func (s *Store) RecentGames(ctx context.Context, limit int) ([]GameRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, host_counter, name, map, creator, created_at, started_at, ended_at, duration_ms, winner
		 FROM games ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer rows.Close()

	var out []GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Game loads one game with its players.
func (s *Store) Game(ctx context.Context, id string) (*GameRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, host_counter, name, map, creator, created_at, started_at, ended_at, duration_ms, winner
		 FROM games WHERE id = ?`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.Players, err = s.players(ctx, `WHERE game_id = ? ORDER BY pid`, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// PlayerHistory returns the most recent games a player took part in.
func (s *Store) PlayerHistory(ctx context.Context, name string, limit int) ([]PlayerRecord, error) {
	return s.players(ctx, `WHERE name = ? COLLATE NOCASE ORDER BY joined_at DESC LIMIT ?`, name, limit)
}

func (s *Store) players(ctx context.Context, where string, args ...any) ([]PlayerRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT game_id, pid, name, ip, team, colour, reserved, gproxy, joined_at, left_at, left_reason, stats
		 FROM players `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	var out []PlayerRecord
	for rows.Next() {
		var p PlayerRecord
		var joined, left int64
		var stats string
		if err := rows.Scan(&p.GameID, &p.PID, &p.Name, &p.IP, &p.Team, &p.Colour, &p.Reserved, &p.GProxy,
			&joined, &left, &p.LeftReason, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.JoinedAt, p.LeftAt = fromUnix(joined), fromUnix(left)
		if stats != "" {
			if err := json.Unmarshal([]byte(stats), &p.Stats); err != nil {
				s.logger.Warn().Err(err).Str("game_id", p.GameID).Msg("ignoring corrupt player stats")
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(r scanner) (GameRecord, error) {
	var g GameRecord
	var created, started, ended, durMS int64
	if err := r.Scan(&g.ID, &g.HostCounter, &g.Name, &g.Map, &g.Creator, &created, &started, &ended, &durMS, &g.Winner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("failed to scan game: %w", err)
	}
	g.CreatedAt, g.StartedAt, g.EndedAt = fromUnix(created), fromUnix(started), fromUnix(ended)
	g.Duration = time.Duration(durMS) * time.Millisecond
	return g, nil
}

// PruneBefore deletes games that ended before cutoff along with their
// players.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM games WHERE ended_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune games: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("games", n).Time("cutoff", cutoff).Msg("pruned game history")
	}
	return n, nil
}

// Close waits for pending saves and closes the database.
func (s *Store) Close() error {
	s.Wait()
	return s.db.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
