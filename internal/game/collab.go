package game

import (
	"time"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// Acceptor hands newly connected clients to a lobby.
type Acceptor interface {
	Accept() (network.Stream, bool)
	Port() uint16
	Close() error
}

// Advertiser publishes the lobby to players looking for games. Refresh must
// not block; the result arrives on the returned channel.
type Advertiser interface {
	Refresh(ad protocol.GameAdvert) <-chan error
	Withdraw(hostCounter uint32)
}

// SaveHandle tracks an asynchronous summary write.
type SaveHandle interface {
	Ready() bool
	Err() error
}

// Persistence stores finished game summaries.
type Persistence interface {
	BeginSave(summary Summary) SaveHandle
}

// BanList answers whether a name may join.
type BanList interface {
	IsBanned(name string) (reason string, banned bool)
}

// CommandHandler receives chat lines that start with the command trigger.
// Command parsing lives outside the session.
type CommandHandler interface {
	HandleCommand(s *Session, pid uint8, command, payload string)
}

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(evt events.Event)
}

// StatsTracker inspects relayed actions for map-specific statistics.
type StatsTracker interface {
	// ProcessAction returns true when the action decided a winner.
	ProcessAction(a protocol.Action) bool
	Results() TrackerResults
}

// TrackerResults are the statistics a tracker gathered.
type TrackerResults struct {
	Winner   uint8
	Duration time.Duration
	// Players is keyed by slot colour.
	Players map[uint8]map[string]int
}

// Collaborators groups the optional external services of a session. Every
// field may be nil.
type Collaborators struct {
	Listener   Acceptor
	Advertiser Advertiser
	Persist    Persistence
	Bans       BanList
	Commands   CommandHandler
	Publisher  Publisher
	Tracker    StatsTracker
}
