// Package host owns every game session and drives them from a single
// reactor goroutine. Other goroutines reach the sessions only through Do.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/dota"
	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/reconnect"
)

const (
	idleWait         = time.Second
	snapshotInterval = 250 * time.Millisecond
	limiterPrune     = time.Minute
	shutdownGrace    = 10 * time.Second
	orphanWait       = 30 * time.Second
	commandQueue     = 64
)

var (
	ErrStopped      = errors.New("host is not running")
	ErrUnknownMap   = errors.New("unknown map")
	ErrLobbyExists  = errors.New("a lobby is already open")
	ErrTooManyGames = errors.New("maximum number of games reached")
	ErrNoSuchGame   = errors.New("no such game")
	ErrBadGameName  = errors.New("game name must be 1 to 31 characters")
)

// GameRequest describes a game to create.
type GameRequest struct {
	Name    string `json:"name"`
	Map     string `json:"map"`
	Public  bool   `json:"public"`
	Creator string `json:"creator"`
}

// ListenFunc binds the lobby listener for a new game.
type ListenFunc func(ctx context.Context, port int) (game.Acceptor, error)

// Options wires the host to its collaborators. Every field except Config
// and Maps may be nil.
type Options struct {
	Config     *config.Config
	Maps       map[string]*maps.Map
	Publisher  game.Publisher
	Persist    game.Persistence
	Bans       game.BanList
	Advertiser game.Advertiser
	Reconnect  *reconnect.Listener
	Limiter    *network.AcceptLimiter
	Listen     ListenFunc
}

// Host is the reactor that polls every session.
type Host struct {
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger

	ctx      context.Context
	wake     chan struct{}
	cmds     chan func(*Host)
	running  chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	queueMu sync.Mutex
	queued  []GameRequest

	sessions    []*game.Session
	orphans     []orphan
	hostCounter uint32
	startedAt   time.Time

	lastSnapshot time.Time
	lastPrune    time.Time
	snaps        snapshotStore
}

type orphan struct {
	gameID uint32
	name   string
	handle game.SaveHandle
}

// New creates a host. Run starts it.
func New(opts Options) *Host {
	h := &Host{
		cfg:     opts.Config,
		opts:    opts,
		logger:  log.With().Str("component", "host").Logger(),
		ctx:     context.Background(),
		wake:    make(chan struct{}, 1),
		cmds:    make(chan func(*Host), commandQueue),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if h.opts.Listen == nil {
		h.opts.Listen = h.listenTCP
	}
	return h
}

// Wake is signalled by sockets when data arrives.
func (h *Host) Wake() chan<- struct{} { return h.wake }

func (h *Host) listenTCP(ctx context.Context, port int) (game.Acceptor, error) {
	addr := net.JoinHostPort(h.cfg.GetHost().BindAddress, fmt.Sprint(port))
	return network.Listen(ctx, addr, h.wake, h.opts.Limiter)
}

// ListenReconnect binds the reconnect port and attaches the listener to the
// host. It must be called before Run.
func (h *Host) ListenReconnect(ctx context.Context, port int) error {
	acc, err := h.opts.Listen(ctx, port)
	if err != nil {
		return fmt.Errorf("failed to listen for reconnects: %w", err)
	}
	h.opts.Reconnect = reconnect.NewListener(acc)
	h.logger.Info().Uint16("port", acc.Port()).Msg("reconnect listener started")
	return nil
}

// Run drives the sessions until ctx is cancelled, then closes every game and
// waits for outstanding saves.
func (h *Host) Run(ctx context.Context) error {
	h.ctx = ctx
	h.startedAt = time.Now()
	close(h.running)
	defer h.stopOnce.Do(func() { close(h.stopped) })

	h.logger.Info().Int("maps", len(h.opts.Maps)).Msg("host reactor started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		now := time.Now()
		h.update(now)

		timer.Reset(h.nextDeadline(now))
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case fn := <-h.cmds:
			fn(h)
			h.drainCommands()
		case <-h.wake:
		case <-timer.C:
		}
	}
}

func (h *Host) drainCommands() {
	for {
		select {
		case fn := <-h.cmds:
			fn(h)
		default:
			return
		}
	}
}

// Do runs fn on the reactor goroutine and returns its error.
func (h *Host) Do(ctx context.Context, fn func(h *Host) error) error {
	select {
	case <-h.running:
	case <-ctx.Done():
		return ctx.Err()
	}

	errc := make(chan error, 1)
	select {
	case h.cmds <- func(h *Host) { errc <- fn(h) }:
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) update(now time.Time) {
	h.createQueued(now)

	if h.opts.Reconnect != nil {
		h.opts.Reconnect.Update(now, h)
	}

	h.sessions = slices.DeleteFunc(h.sessions, func(s *game.Session) bool {
		if !s.Update(now) {
			return false
		}
		h.logger.Info().Uint32("game_id", s.ID()).Str("game", s.Name()).Msg("game removed")
		return true
	})

	h.pollOrphans()

	if h.opts.Limiter != nil && now.Sub(h.lastPrune) >= limiterPrune {
		h.opts.Limiter.Prune(now, limiterPrune)
		h.lastPrune = now
	}
	if now.Sub(h.lastSnapshot) >= snapshotInterval {
		h.publishSnapshots(now)
	}
}

func (h *Host) nextDeadline(now time.Time) time.Duration {
	wait := idleWait
	for _, s := range h.sessions {
		wait = min(wait, s.NextDeadline(now))
	}
	return wait
}

// QueueGameCreate validates req and schedules the game to be created on the
// next reactor pass. It is safe to call from any goroutine.
func (h *Host) QueueGameCreate(req GameRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 31 {
		return ErrBadGameName
	}
	if req.Map == "" {
		req.Map = h.cfg.GetHost().DefaultMap
	}
	if _, ok := h.opts.Maps[req.Map]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMap, req.Map)
	}

	h.queueMu.Lock()
	h.queued = append(h.queued, req)
	h.queueMu.Unlock()
	network.Signal(h.wake)
	return nil
}

func (h *Host) createQueued(now time.Time) {
	h.queueMu.Lock()
	queued := h.queued
	h.queued = nil
	h.queueMu.Unlock()

	for _, req := range queued {
		if _, err := h.CreateGame(req, now); err != nil {
			h.logger.Warn().Err(err).Str("game", req.Name).Msg("failed to create game")
		}
	}
}

// CreateGame opens a lobby immediately. It must run on the reactor.
func (h *Host) CreateGame(req GameRequest, now time.Time) (*game.Session, error) {
	hc := h.cfg.GetHost()
	if h.Lobby() != nil {
		return nil, ErrLobbyExists
	}
	if len(h.sessions) >= hc.MaxGames {
		return nil, ErrTooManyGames
	}
	if req.Map == "" {
		req.Map = hc.DefaultMap
	}
	m, ok := h.opts.Maps[req.Map]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, req.Map)
	}

	acceptor, err := h.opts.Listen(h.ctx, hc.GamePort)
	if err != nil {
		return nil, fmt.Errorf("failed to open lobby listener: %w", err)
	}

	collab := game.Collaborators{
		Listener:   acceptor,
		Advertiser: h.opts.Advertiser,
		Persist:    h.opts.Persist,
		Bans:       h.opts.Bans,
		Publisher:  h.opts.Publisher,
	}
	if m.Stats == "dota" {
		collab.Tracker = dota.NewTracker()
	}

	h.hostCounter++
	s := game.NewSession(h.hostCounter, req.Name, req.Public, req.Creator, m, h.sessionConfig(), collab, now)
	if hc.DefaultHCL != "" {
		s.SetHCL(hc.DefaultHCL)
	}
	h.sessions = append(h.sessions, s)

	h.logger.Info().
		Uint32("game_id", s.ID()).
		Str("game", s.Name()).
		Str("map", m.Name).
		Bool("public", req.Public).
		Msg("game created")
	return s, nil
}

func (h *Host) sessionConfig() game.Config {
	hc := h.cfg.GetHost()
	relay := h.cfg.GetRelay()
	lobby := h.cfg.GetLobby()

	gc := game.Config{
		VirtualHostName:    hc.VirtualHostName,
		LatencyMS:          relay.LatencyMS,
		SyncLimit:          relay.SyncLimit,
		GraceActions:       uint8(relay.GraceActions),
		AutoKickPingMS:     lobby.AutoKickPingMS,
		LobbyTimeLimit:     time.Duration(lobby.TimeLimitMinutes) * time.Minute,
		VoteKickPercentage: lobby.VoteKickPercentage,
		MaxDownloaders:     lobby.MaxDownloaders,
		DownloadRate:       lobby.DownloadKBPerSecond * 1024,
		AllowDownloads:     lobby.AllowDownloads,
		ReservedNames:      hc.ReservedNames,
		HCLCommand:         hc.DefaultHCL,
		GProxy:             relay.GProxy && h.opts.Reconnect != nil,
		ExternalIP:         net.ParseIP(hc.ExternalIP),
		Version:            uint32(hc.GameVersion),
	}
	if len(hc.CommandTrigger) == 1 {
		gc.CommandTrigger = hc.CommandTrigger[0]
	}
	if h.opts.Reconnect != nil {
		gc.ReconnectPort = h.opts.Reconnect.Port()
	}
	return gc
}

// Sessions returns the live sessions. It must run on the reactor.
func (h *Host) Sessions() []*game.Session {
	return slices.Clone(h.sessions)
}

// Session finds a game by id. It must run on the reactor.
func (h *Host) Session(id uint32) (*game.Session, error) {
	for _, s := range h.sessions {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, ErrNoSuchGame
}

// Lobby returns the game still in its lobby, if any.
func (h *Host) Lobby() *game.Session {
	for _, s := range h.sessions {
		if s.State() == game.StateLobby {
			return s
		}
	}
	return nil
}

// SendAllChat sends msg to every player of every game. It must run on the
// reactor.
func (h *Host) SendAllChat(msg string) {
	for _, s := range h.sessions {
		if s.State() != game.StateOver {
			s.SendAllChat(msg)
		}
	}
}

// Reconnect resolves a reconnect request against the running games. PIDs
// are only unique within a game, so a key mismatch in one game does not end
// the search.
func (h *Host) Reconnect(req *protocol.ReconnectRequest, stream network.Stream, now time.Time) error {
	result := game.ErrReconnectNotFound
	for _, s := range h.sessions {
		if s.State() != game.StateRunning {
			continue
		}
		err := s.TryReconnect(req, stream, now)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, game.ErrReconnectInvalid):
			result = err
		case !errors.Is(err, game.ErrReconnectNotFound):
			return err
		}
	}
	return result
}

// Uptime is the time since Run started.
func (h *Host) Uptime() time.Duration {
	if h.startedAt.IsZero() {
		return 0
	}
	return time.Since(h.startedAt)
}

func (h *Host) pollOrphans() {
	h.orphans = slices.DeleteFunc(h.orphans, func(o orphan) bool {
		if !o.handle.Ready() {
			return false
		}
		if err := o.handle.Err(); err != nil {
			h.logger.Error().Err(err).Uint32("game_id", o.gameID).Str("game", o.name).Msg("orphaned save failed")
		} else {
			h.logger.Info().Uint32("game_id", o.gameID).Str("game", o.name).Msg("orphaned save completed")
		}
		return true
	})
}

// shutdown closes every game, keeps polling until they finish or the grace
// period ends, then waits for saves that outlived their sessions.
func (h *Host) shutdown() {
	h.stopOnce.Do(func() { close(h.stopped) })
	h.logger.Info().Int("games", len(h.sessions)).Msg("host shutting down")

	for _, s := range h.sessions {
		s.Close("host shutting down")
	}

	deadline := time.Now().Add(shutdownGrace)
	for len(h.sessions) > 0 && time.Now().Before(deadline) {
		h.update(time.Now())
		time.Sleep(50 * time.Millisecond)
	}
	for _, s := range h.sessions {
		if sh := s.SaveHandle(); sh != nil {
			h.orphans = append(h.orphans, orphan{gameID: s.ID(), name: s.Name(), handle: sh})
		}
	}
	h.sessions = nil

	deadline = time.Now().Add(orphanWait)
	for len(h.orphans) > 0 && time.Now().Before(deadline) {
		h.pollOrphans()
		time.Sleep(50 * time.Millisecond)
	}
	if len(h.orphans) > 0 {
		h.logger.Warn().Int("saves", len(h.orphans)).Msg("abandoning unfinished saves")
	}
	if h.opts.Reconnect != nil {
		h.opts.Reconnect.Close()
	}
	h.publishSnapshots(time.Now())
	h.logger.Info().Msg("host stopped")
}
