package host

import (
	"sync"
	"time"

	"github.com/energizer-project/relayhost/internal/game"
)

// Status is a point-in-time view of the host for the API and CLI.
type Status struct {
	Games     []game.Snapshot `json:"games"`
	Queued    int             `json:"queued"`
	Orphans   int             `json:"pending_saves"`
	Reconnect ReconnectStatus `json:"reconnect"`
	Uptime    time.Duration   `json:"uptime_ns"`
	TakenAt   time.Time       `json:"taken_at"`
}

// ReconnectStatus summarises the reconnect listener.
type ReconnectStatus struct {
	Enabled  bool   `json:"enabled"`
	Port     uint16 `json:"port,omitempty"`
	Pending  int    `json:"pending"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
}

// snapshotStore hands reactor state to other goroutines.
type snapshotStore struct {
	mu     sync.RWMutex
	status Status
}

func (st *snapshotStore) set(s Status) {
	st.mu.Lock()
	st.status = s
	st.mu.Unlock()
}

func (st *snapshotStore) get() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

func (h *Host) publishSnapshots(now time.Time) {
	status := Status{
		Games:   make([]game.Snapshot, 0, len(h.sessions)),
		Orphans: len(h.orphans),
		Uptime:  h.Uptime(),
		TakenAt: now,
	}
	for _, s := range h.sessions {
		status.Games = append(status.Games, s.Snapshot())
	}

	h.queueMu.Lock()
	status.Queued = len(h.queued)
	h.queueMu.Unlock()

	if r := h.opts.Reconnect; r != nil {
		accepted, rejected := r.Stats()
		status.Reconnect = ReconnectStatus{
			Enabled:  true,
			Port:     r.Port(),
			Pending:  r.Pending(),
			Accepted: accepted,
			Rejected: rejected,
		}
	}

	h.snaps.set(status)
	h.lastSnapshot = now
}

// Status returns the most recent snapshot. It is safe to call from any
// goroutine.
func (h *Host) Status() Status {
	return h.snaps.get()
}

// Game returns the most recent snapshot of one game.
func (h *Host) Game(id uint32) (game.Snapshot, bool) {
	for _, g := range h.snaps.get().Games {
		if g.ID == id {
			return g, true
		}
	}
	return game.Snapshot{}, false
}
