// Package game implements the session engine: the lobby and slot state
// machine, the player connection lifecycle, the action relay with its lag
// and desync detection, and the reconnect sub-protocol.
//
// A Session is not safe for concurrent use. The host reactor calls Update
// and every operator method from a single goroutine.
package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/maps"
	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateLobby State = iota
	StateLoading
	StateRunning
	StateOver
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	default:
		return "over"
	}
}

// Session is one hosted game from lobby to teardown.
type Session struct {
	id       uint32
	name     string
	public   bool
	creator  string
	cfg      Config
	gameMap  *maps.Map
	mapData  []byte
	opts     slot.Options
	collab   Collaborators
	logger   zerolog.Logger
	rng      *rand.Rand
	entryKey uint32
	seed     uint32

	slots   slot.Table
	players []*Player
	pending []*PendingConnection
	actions []protocol.Action

	reserved        []string
	bannedAnnounced map[string]bool
	fakePlayers     []uint8
	virtualHostPID  uint8

	state            State
	countingDown     bool
	countdownCounter int
	lastCountdown    time.Time
	exiting          bool
	exitReason       string

	createdAt        time.Time
	startedLoadingAt time.Time
	loadedAt         time.Time
	lastPing         time.Time
	lastRefresh      time.Time
	lastDownload     time.Time
	lastReservedSeen time.Time
	lastLoadKeepAll  time.Time
	lastGProxyAck    time.Time
	gameOverAt       time.Time

	refreshPending <-chan error
	refreshFailed  bool

	downloadLimiter *rate.Limiter
	slotInfoDirty   bool

	loadEvents [][]byte

	syncCounter      uint32
	checkedRounds    uint32 // keepalive checksum rounds already compared
	lagging          bool
	startedLaggingAt time.Time
	lastLagScreen    time.Time
	lastActionSent   time.Time
	lastActionLateBy time.Duration

	kick *kickVote

	startPlayers int
	departed     []PlayerSummary
	winner       uint8
	saveHandle   SaveHandle
	done         bool
}

// NewSession creates a lobby for m. The host counter id correlates
// advertisement refreshes with this session.
func NewSession(id uint32, name string, public bool, creator string, m *maps.Map, cfg Config, collab Collaborators, now time.Time) *Session {
	cfg = cfg.normalized()
	seed := uint64(now.UnixNano())
	s := &Session{
		id:              id,
		name:            name,
		public:          public,
		creator:         creator,
		cfg:             cfg,
		gameMap:         m,
		mapData:         m.Data(),
		opts:            m.SlotOptions(),
		collab:          collab,
		rng:             rand.New(rand.NewPCG(seed, uint64(id))),
		slots:           m.Table(),
		bannedAnnounced: make(map[string]bool),
		createdAt:       now,
		lastPing:        now,
		lastDownload:    now,
		logger: log.With().
			Str("component", "game").
			Uint32("game_id", id).
			Str("game", name).
			Logger(),
	}
	s.lastReservedSeen = now
	s.entryKey = s.rng.Uint32()
	s.seed = s.rng.Uint32()
	s.downloadLimiter = newDownloadLimiter(cfg.DownloadRate)
	if creator != "" {
		s.reserved = append(s.reserved, creator)
	}
	s.virtualHostPID = s.allocatePID()

	s.logger.Info().
		Str("map", m.Name).
		Bool("public", public).
		Int("slots", len(s.slots)).
		Msg("lobby created")
	s.publish(events.EventGameCreated, s.gamePayload(""))
	return s
}

func newDownloadLimiter(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), max(bytesPerSec, protocol.MapPartSize))
}

// ID returns the host counter.
func (s *Session) ID() uint32 { return s.id }

// Name returns the current game name.
func (s *Session) Name() string { return s.name }

// State returns the lifecycle phase.
func (s *Session) State() State { return s.state }

// EntryKey is the key LAN clients must present when joining.
func (s *Session) EntryKey() uint32 { return s.entryKey }

// Slots returns a copy of the slot table.
func (s *Session) Slots() slot.Table { return s.slots.Clone() }

// Players returns the live players in join order.
func (s *Session) Players() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		if !p.deleteMe {
			out = append(out, p)
		}
	}
	return out
}

// Player looks up a live player by PID.
func (s *Session) Player(pid uint8) *Player {
	for _, p := range s.players {
		if p.PID == pid && !p.deleteMe {
			return p
		}
	}
	return nil
}

// PlayerByName looks up a live player by case-insensitive name or unique prefix.
func (s *Session) PlayerByName(name string) *Player {
	name = strings.ToLower(name)
	var match *Player
	for _, p := range s.players {
		if p.deleteMe {
			continue
		}
		lower := strings.ToLower(p.Name)
		if lower == name {
			return p
		}
		if strings.HasPrefix(lower, name) {
			if match != nil {
				return nil
			}
			match = p
		}
	}
	return match
}

// SaveHandle returns the pending summary write, if any.
func (s *Session) SaveHandle() SaveHandle { return s.saveHandle }

// Update runs one reactor pass at time now and reports whether the session
// is finished and may be discarded.
func (s *Session) Update(now time.Time) bool {
	if s.done {
		return true
	}
	if s.exiting {
		s.teardown(now)
		return s.done
	}
	if s.state == StateOver {
		return s.pollSave()
	}

	s.acceptConnections()
	s.updatePending(now)
	s.updatePlayers(now)
	s.sweepPlayers(now)

	s.updatePings(now)
	s.updateKickVote(now)

	switch s.state {
	case StateLobby:
		s.updateLobby(now)
	case StateLoading:
		s.updateLoading(now)
	case StateRunning:
		s.updateRunning(now)
		s.updateGProxy(now)
	}
	s.sweepPlayers(now)

	if (s.state == StateLoading || s.state == StateRunning) && len(s.players) == 0 {
		s.gameOver(now)
	}
	s.flush()
	if s.state == StateOver {
		return s.pollSave()
	}
	return s.done
}

// NextDeadline is the longest the reactor may sleep before this session
// needs another Update.
func (s *Session) NextDeadline(now time.Time) time.Duration {
	wait := 50 * time.Millisecond
	if s.countingDown {
		wait = min(wait, max(0, s.lastCountdown.Add(CountdownInterval).Sub(now)))
	}
	if s.state == StateRunning && !s.lagging {
		due := s.lastActionSent.Add(nextRelayInterval(s.latency(), s.lastActionLateBy))
		wait = min(wait, max(0, due.Sub(now)))
	}
	return wait
}

func (s *Session) acceptConnections() {
	if s.state != StateLobby || s.collab.Listener == nil {
		return
	}
	for {
		stream, ok := s.collab.Listener.Accept()
		if !ok {
			return
		}
		s.logger.Debug().Str("ip", stream.RemoteIP().String()).Msg("connection accepted")
		s.pending = append(s.pending, newPendingConnection(stream))
	}
}

func (s *Session) updatePending(now time.Time) {
	for _, pc := range s.pending {
		req := pc.update(now, s.logger)
		if req != nil {
			s.eventJoin(pc, req, now)
		}
	}
	s.pending = slices.DeleteFunc(s.pending, func(pc *PendingConnection) bool {
		if pc.deleteMe {
			pc.close()
		}
		return pc.deleteMe
	})
}

func (s *Session) updatePlayers(now time.Time) {
	for _, p := range s.players {
		if p.deleteMe {
			continue
		}
		s.updatePlayer(p, now)
	}
}

func (s *Session) updatePlayer(p *Player, now time.Time) {
	if p.disconnected {
		if now.Sub(p.disconnectedAt) >= s.cfg.reconnectWindow() {
			s.removePlayer(p, "has lost the connection (timed out waiting to reconnect)", protocol.LeaveDisconnect)
		}
		return
	}

	st := p.stream
	st.DoRecv(now)

	for {
		frame, err := protocol.ExtractFrame(st.RecvBuffer())
		if err != nil {
			s.logger.Warn().Err(err).Str("player", p.Name).Msg("bad frame from player")
			s.disconnect(p, CausePlayerError, now)
			return
		}
		if frame == nil {
			break
		}
		s.dispatch(p, frame, now)
		if p.deleteMe || p.disconnected {
			return
		}
	}

	switch {
	case st.Err() != nil:
		s.disconnect(p, CauseSocketError, now)
	case st.RemoteClosed():
		s.disconnect(p, CauseClosedByRemote, now)
	case s.state != StateRunning && !p.gproxy && now.Sub(st.LastRecv()) >= LobbyIdleTimeout:
		s.disconnect(p, CauseTimeout, now)
	}
}

// disconnect handles a lost connection. Reconnect-capable players in a
// running game keep their seat until the reconnect window expires.
func (s *Session) disconnect(p *Player, cause DisconnectCause, now time.Time) {
	if p.gproxy && s.cfg.GProxy && s.state == StateRunning {
		p.detach()
		p.disconnected = true
		p.disconnectedAt = now
		p.lastNotice = now
		if !p.noticeSent {
			p.noticeSent = true
			s.SendAllChat(fmt.Sprintf("%s has lost the connection (%s) but may reconnect", p.Name, cause))
		}
		s.logger.Info().Str("player", p.Name).Str("cause", cause.String()).Msg("player disconnected, waiting for reconnect")
		return
	}

	var reason string
	switch cause {
	case CauseTimeout:
		reason = "has lost the connection (timed out)"
	case CauseSocketError:
		reason = "has lost the connection (connection error)"
	case CauseClosedByRemote:
		reason = "has lost the connection (connection closed by remote host)"
	default:
		reason = "has lost the connection (protocol error)"
	}
	s.logger.Info().Str("player", p.Name).Str("cause", cause.String()).Msg("player disconnected")
	s.removePlayer(p, reason, protocol.LeaveDisconnect)
}

// removePlayer marks p for deletion at the next sweep.
func (s *Session) removePlayer(p *Player, reason string, code uint32) {
	if p.deleteMe {
		return
	}
	p.deleteMe = true
	p.leftReason = reason
	if s.state == StateLobby {
		p.leftCode = protocol.LeaveLobby
	} else {
		p.leftCode = code
	}
}

func (s *Session) sweepPlayers(now time.Time) {
	for _, p := range s.players {
		if p.deleteMe {
			s.eventPlayerDeleted(p, now)
		}
	}
	s.players = slices.DeleteFunc(s.players, func(p *Player) bool {
		if p.deleteMe {
			p.flush()
			p.detach()
		}
		return p.deleteMe
	})
}

func (s *Session) flush() {
	for _, p := range s.players {
		p.flush()
	}
	for _, pc := range s.pending {
		if pc.stream != nil {
			pc.stream.DoSend()
		}
	}
}

// Close ends the session. In a lobby everyone is disconnected; a started
// game stops all players and proceeds to save.
func (s *Session) Close(reason string) {
	if s.state == StateLobby {
		s.exiting = true
		s.exitReason = reason
		return
	}
	s.StopPlayers(reason)
}

func (s *Session) teardown(now time.Time) {
	s.logger.Info().Str("reason", s.exitReason).Msg("closing lobby")
	s.SendAllChat("The lobby is closing (" + s.exitReason + ")")
	for _, p := range s.players {
		p.flush()
		p.detach()
	}
	s.players = nil
	for _, pc := range s.pending {
		pc.close()
	}
	s.pending = nil
	s.closeLobbyResources()
	s.publish(events.EventGameClosed, s.gamePayload(s.exitReason))
	s.state = StateOver
	s.done = true
}

func (s *Session) closeLobbyResources() {
	if s.collab.Listener != nil {
		s.collab.Listener.Close()
		s.collab.Listener = nil
	}
	if s.collab.Advertiser != nil {
		s.collab.Advertiser.Withdraw(s.id)
	}
}

// gameOver moves a started session with no players left to StateOver and
// begins persisting its summary.
func (s *Session) gameOver(now time.Time) {
	s.state = StateOver
	s.logger.Info().Dur("duration", now.Sub(s.startedLoadingAt)).Msg("game over")
	s.publish(events.EventGameOver, s.gamePayload(""))
	if s.collab.Persist != nil {
		s.saveHandle = s.collab.Persist.BeginSave(s.summary(now))
	}
}

func (s *Session) pollSave() bool {
	if s.saveHandle == nil || s.saveHandle.Ready() {
		if s.saveHandle != nil {
			if err := s.saveHandle.Err(); err != nil {
				s.logger.Error().Err(err).Msg("failed to save game summary")
			} else {
				s.publish(events.EventSaveCompleted, s.gamePayload(""))
			}
		}
		s.done = true
	}
	return s.done
}

func (s *Session) publish(t events.EventType, payload any) {
	if s.collab.Publisher == nil {
		return
	}
	s.collab.Publisher.Publish(events.Event{
		Type:      t,
		Source:    fmt.Sprintf("game:%d", s.id),
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (s *Session) gamePayload(reason string) events.GamePayload {
	return events.GamePayload{GameID: s.id, Name: s.name, Map: s.gameMap.Name, Players: len(s.Players()), Reason: reason}
}

func (s *Session) playerPayload(p *Player, reason string) events.PlayerPayload {
	return events.PlayerPayload{GameID: s.id, PID: p.PID, Name: p.Name, Reason: reason}
}

// allocatePID returns the lowest free PID, or 0 if none is free.
func (s *Session) allocatePID() uint8 {
	used := make(map[uint8]bool, len(s.players)+len(s.fakePlayers)+1)
	for _, p := range s.players {
		used[p.PID] = true
	}
	for _, f := range s.fakePlayers {
		used[f] = true
	}
	if s.virtualHostPID != 0 {
		used[s.virtualHostPID] = true
	}
	for pid := 1; pid <= maxPID; pid++ {
		if !used[uint8(pid)] {
			return uint8(pid)
		}
	}
	return 0
}

// hostPID is the sender used for host messages.
func (s *Session) hostPID() uint8 {
	if s.virtualHostPID != 0 {
		return s.virtualHostPID
	}
	for _, p := range s.players {
		if !p.deleteMe {
			return p.PID
		}
	}
	return 1
}

func (s *Session) latency() time.Duration {
	return time.Duration(s.cfg.LatencyMS) * time.Millisecond
}

// SetLatency changes the relay interval, clamped to the supported range.
func (s *Session) SetLatency(ms int) int {
	s.cfg.LatencyMS = ClampLatency(ms)
	return s.cfg.LatencyMS
}

// SetSyncLimit changes the lag threshold, clamped to the supported range.
func (s *Session) SetSyncLimit(n int) int {
	s.cfg.SyncLimit = ClampSyncLimit(n)
	return s.cfg.SyncLimit
}

// AddReserved lets name displace non-reserved players when the lobby is full.
func (s *Session) AddReserved(name string) {
	s.reserved = append(s.reserved, name)
	if p := s.PlayerByName(name); p != nil && strings.EqualFold(p.Name, name) {
		p.Reserved = true
	}
}

func (s *Session) isReserved(name string) bool {
	if s.cfg.reservedName(name) {
		return true
	}
	for _, r := range s.reserved {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// SetHCL sets the command encoded into handicaps when loading starts.
func (s *Session) SetHCL(cmd string) bool {
	if s.state != StateLobby || !slot.ValidHCL(cmd, len(s.slots)) {
		return false
	}
	s.cfg.HCLCommand = strings.ToLower(cmd)
	return true
}

// Rehost renames the lobby under a new host counter.
func (s *Session) Rehost(name string, hostCounter uint32) bool {
	if s.state != StateLobby || name == "" {
		return false
	}
	if s.collab.Advertiser != nil {
		s.collab.Advertiser.Withdraw(s.id)
	}
	s.logger.Info().Str("new_name", name).Uint32("host_counter", hostCounter).Msg("rehosting lobby")
	s.name = name
	s.id = hostCounter
	s.refreshFailed = false
	s.lastRefresh = time.Time{}
	s.logger = s.logger.With().Uint32("game_id", hostCounter).Str("game", name).Logger()
	return true
}

// SpoofCheckResult records an external identity confirmation.
func (s *Session) SpoofCheckResult(name string, confirmed bool) {
	for _, p := range s.players {
		if strings.EqualFold(p.Name, name) && !p.deleteMe {
			p.spoofChecked = confirmed
			s.logger.Debug().Str("player", p.Name).Bool("confirmed", confirmed).Msg("spoof check result")
		}
	}
}
