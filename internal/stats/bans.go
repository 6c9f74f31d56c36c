package stats

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Ban is one entry of the ban list.
type Ban struct {
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) loadBans(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `SELECT name, reason, banned_by, created_at FROM bans`)
	if err != nil {
		return err
	}
	defer rows.Close()

	bans := make(map[string]Ban)
	for rows.Next() {
		var b Ban
		var created int64
		if err := rows.Scan(&b.Name, &b.Reason, &b.BannedBy, &created); err != nil {
			return fmt.Errorf("failed to scan ban: %w", err)
		}
		b.CreatedAt = fromUnix(created)
		bans[normalizeName(b.Name)] = b
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.bansMu.Lock()
	s.bans = bans
	s.bansMu.Unlock()
	s.logger.Debug().Int("bans", len(bans)).Msg("ban list loaded")
	return nil
}

// IsBanned answers from the in-memory ban list so sessions never wait on
// the database.
func (s *Store) IsBanned(name string) (string, bool) {
	s.bansMu.RLock()
	defer s.bansMu.RUnlock()
	b, ok := s.bans[normalizeName(name)]
	return b.Reason, ok
}

// AddBan bans name, replacing any existing entry.
func (s *Store) AddBan(ctx context.Context, name, reason, by string) error {
	b := Ban{Name: name, Reason: reason, BannedBy: by, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	_, err := s.db.Exec(ctx,
		`INSERT OR REPLACE INTO bans (name, reason, banned_by, created_at) VALUES (?, ?, ?, ?)`,
		normalizeName(name), reason, by, b.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to add ban: %w", err)
	}

	s.bansMu.Lock()
	s.bans[normalizeName(name)] = b
	s.bansMu.Unlock()
	s.logger.Info().Str("name", name).Str("reason", reason).Str("by", by).Msg("player banned")
	return nil
}

// RemoveBan lifts a ban and reports whether one existed.
func (s *Store) RemoveBan(ctx context.Context, name string) (bool, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM bans WHERE name = ?`, normalizeName(name))
	if err != nil {
		return false, fmt.Errorf("failed to remove ban: %w", err)
	}
	n, _ := res.RowsAffected()

	s.bansMu.Lock()
	delete(s.bans, normalizeName(name))
	s.bansMu.Unlock()
	return n > 0, nil
}

// Bans lists the ban list sorted by name.
func (s *Store) Bans() []Ban {
	s.bansMu.RLock()
	out := make([]Ban, 0, len(s.bans))
	for _, b := range s.bans {
		out = append(out, b)
	}
	s.bansMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
