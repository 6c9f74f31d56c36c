package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// eventJoin decides a join request. The pending connection is either
// rejected or its stream is handed to a new Player.
func (s *Session) eventJoin(pc *PendingConnection, req *protocol.JoinRequest, now time.Time) {
	logger := s.logger.With().Str("player", req.Name).Str("ip", pc.stream.RemoteIP().String()).Logger()

	if s.state != StateLobby || s.countingDown {
		logger.Debug().Msg("join rejected: game started")
		pc.reject(protocol.RejectStarted)
		return
	}
	if !s.validJoinName(req.Name) {
		logger.Debug().Msg("join rejected: invalid or duplicate name")
		pc.reject(protocol.RejectFull)
		return
	}
	if s.collab.Bans != nil {
		if reason, banned := s.collab.Bans.IsBanned(req.Name); banned {
			key := strings.ToLower(req.Name)
			if !s.bannedAnnounced[key] {
				s.bannedAnnounced[key] = true
				s.SendAllChat(fmt.Sprintf("%s is trying to join the game but is banned (%s)", req.Name, reason))
			}
			logger.Info().Str("reason", reason).Msg("join rejected: banned")
			pc.reject(protocol.RejectFull)
			return
		}
	}
	if req.EntryKey != s.entryKey {
		logger.Debug().Uint32("entry_key", req.EntryKey).Msg("join rejected: wrong entry key")
		pc.reject(protocol.RejectWrongPassword)
		return
	}

	reserved := s.isReserved(req.Name)
	idx := s.slots.FirstOpen()
	if idx < 0 && reserved {
		idx = s.displaceForReserved()
	}
	if idx < 0 {
		logger.Debug().Msg("join rejected: lobby full")
		pc.reject(protocol.RejectFull)
		return
	}
	pid := s.allocatePID()
	if pid == 0 {
		pc.reject(protocol.RejectFull)
		return
	}

	p := newPlayer(pid, req, pc.release(), reserved, now)
	s.players = append(s.players, p)
	s.slots.Occupy(idx, pid, slot.DownloadUnknown)
	if reserved {
		s.lastReservedSeen = now
	}

	layout := protocol.EncodeSlotLayout(s.slotLayout())
	p.Send(protocol.BuildSlotInfoJoin(layout, pid, req.ListenPort, p.ExternalIP))
	if s.virtualHostPID != 0 {
		p.Send(protocol.BuildPlayerInfo(s.virtualHostPID, s.cfg.VirtualHostName, nil, nil))
	}
	for _, f := range s.fakePlayers {
		p.Send(protocol.BuildPlayerInfo(f, fakePlayerName(f), nil, nil))
	}
	info := protocol.BuildPlayerInfo(p.PID, p.Name, p.ExternalIP, p.InternalIP)
	for _, o := range s.players {
		if o == p || o.deleteMe {
			continue
		}
		p.Send(protocol.BuildPlayerInfo(o.PID, o.Name, o.ExternalIP, o.InternalIP))
		o.Send(info)
	}
	p.Send(protocol.BuildMapCheck(s.gameMap.MapInfo()))
	s.sendSlotInfo()

	logger.Info().Uint8("pid", pid).Int("slot", idx).Bool("reserved", reserved).Msg("player joined")
	s.publish(events.EventPlayerJoined, s.playerPayload(p, ""))
}

func (s *Session) validJoinName(name string) bool {
	if name == "" || len(name) > maxNameLength {
		return false
	}
	if strings.EqualFold(name, s.cfg.VirtualHostName) {
		return false
	}
	for _, f := range s.fakePlayers {
		if strings.EqualFold(name, fakePlayerName(f)) {
			return false
		}
	}
	for _, p := range s.players {
		if !p.deleteMe && strings.EqualFold(p.Name, name) {
			return false
		}
	}
	return true
}

// displaceForReserved kicks the most recent non-reserved player and hands
// the freed slot over. Returns -1 when everyone is reserved.
func (s *Session) displaceForReserved() int {
	for i := len(s.players) - 1; i >= 0; i-- {
		p := s.players[i]
		if p.deleteMe || p.Reserved {
			continue
		}
		idx := s.slots.FindPID(p.PID)
		if idx < 0 {
			continue
		}
		s.removePlayer(p, "was kicked to make room for a reserved player", protocol.LeaveLobby)
		s.slots.Open(idx)
		return idx
	}
	return -1
}

// eventPlayerDeleted announces a departure and releases the player's slot.
// It runs once per player during the sweep.
func (s *Session) eventPlayerDeleted(p *Player, now time.Time) {
	p.leftAt = now
	if !p.leftMessageSent {
		p.leftMessageSent = true
		s.SendAllChat(p.Name + " " + p.leftReason)
	}
	s.logger.Info().Uint8("pid", p.PID).Str("player", p.Name).Str("reason", p.leftReason).Msg("player left")

	leave := protocol.BuildPlayerLeaveOthers(p.PID, p.leftCode)
	switch s.state {
	case StateLobby:
		s.broadcastExcept(p, leave)
		if idx := s.slots.FindPID(p.PID); idx >= 0 {
			s.slots.Open(idx)
			s.sendSlotInfo()
		}
		if s.countingDown {
			s.countingDown = false
			s.SendAllChat("Countdown aborted!")
		}
	case StateLoading:
		s.loadEvents = append(s.loadEvents, leave)
		for _, o := range s.players {
			if o == p || o.deleteMe || !o.finishedLoading {
				continue
			}
			if !p.finishedLoading {
				o.Send(protocol.BuildStopLag(p.PID, uint32(now.Sub(s.startedLoadingAt).Milliseconds())))
			}
			o.Send(leave)
		}
		s.departed = append(s.departed, s.playerSummary(p))
	default:
		if p.lagging {
			s.broadcastExcept(p, protocol.BuildStopLag(p.PID, uint32(now.Sub(p.startedLaggingAt).Milliseconds())))
			p.lagging = false
		}
		s.broadcastExcept(p, leave)
		s.departed = append(s.departed, s.playerSummary(p))
		if s.gameOverAt.IsZero() && s.humansRemaining(p) <= 1 {
			s.gameOverAt = now
			s.logger.Info().Msg("gameover timer started")
		}
	}
	if s.kick != nil && s.kick.target == p.PID {
		s.kick = nil
	}
	s.publish(events.EventPlayerLeft, s.playerPayload(p, p.leftReason))
}

func (s *Session) humansRemaining(except *Player) int {
	n := 0
	for _, p := range s.players {
		if p != except && !p.deleteMe {
			n++
		}
	}
	return n
}

// dispatch handles one frame from a joined player.
func (s *Session) dispatch(p *Player, f *protocol.Frame, now time.Time) {
	if f.IsGPS() {
		s.dispatchGPS(p, f, now)
		return
	}
	p.totalReceived++
	payload := f.Payload()

	switch f.Type {
	case protocol.LeaveGame:
		code, err := protocol.ParseLeaveGame(payload)
		if err != nil {
			code = protocol.LeaveDisconnect
		}
		s.removePlayer(p, "has left the game voluntarily", code)
	case protocol.GameLoadedSelf:
		s.eventGameLoaded(p, now)
	case protocol.OutgoingAction:
		_, data, err := protocol.ParseOutgoingAction(payload)
		if err != nil {
			return
		}
		s.eventAction(p, data, now)
	case protocol.OutgoingKeepalive:
		checksum, err := protocol.ParseKeepalive(payload)
		if err != nil {
			return
		}
		s.eventKeepalive(p, checksum, now)
	case protocol.ChatToHost:
		chat, err := protocol.ParseChat(payload)
		if err != nil {
			s.logger.Debug().Err(err).Str("player", p.Name).Msg("ignoring malformed chat")
			return
		}
		s.eventChat(p, chat)
	case protocol.DropReq:
		s.eventDropRequest(p, now)
	case protocol.MapSize:
		flag, size, err := protocol.ParseMapSize(payload)
		if err != nil {
			return
		}
		s.eventMapSize(p, flag, size, now)
	case protocol.PongToHost:
		ticks, err := protocol.ParsePong(payload)
		if err != nil {
			return
		}
		if sent := time.Duration(ticks) * time.Millisecond; s.elapsed(now) >= sent {
			p.addPing(s.elapsed(now) - sent)
		}
	default:
		s.logger.Trace().Uint8("type", f.Type).Str("player", p.Name).Msg("ignoring frame")
	}
}

func (s *Session) elapsed(now time.Time) time.Duration {
	return now.Sub(s.createdAt).Truncate(time.Millisecond)
}

// eventAction queues a player action for the next relay flush.
func (s *Session) eventAction(p *Player, data []byte, now time.Time) {
	if s.state != StateRunning {
		return
	}
	a := protocol.Action{PID: p.PID, Data: data}
	if a.Len() > protocol.MaxActionBatch {
		s.logger.Warn().Str("player", p.Name).Int("size", len(data)).Msg("dropping oversized action")
		return
	}
	s.actions = append(s.actions, a)
	if s.collab.Tracker != nil && s.collab.Tracker.ProcessAction(a) && s.gameOverAt.IsZero() {
		s.winner = s.collab.Tracker.Results().Winner
		s.gameOverAt = now
		s.logger.Info().Uint8("winner", s.winner).Msg("winner detected, gameover timer started")
	}
}

// eventKeepalive advances the player's sync counter and runs desync
// detection once every player has a checksum queued.
func (s *Session) eventKeepalive(p *Player, checksum uint32, now time.Time) {
	if s.state == StateLobby {
		return
	}
	if p.ignoreKeepalives > 0 {
		p.ignoreKeepalives--
		return
	}
	p.syncCounter++
	p.checksums = append(p.checksums, checksum)
	s.checkDesync(now)
}

// checkDesync compares checksum rounds across the connected players.
// Disconnected players sit out; rounds judged without them are discarded
// when their keepalives arrive after a reconnect.
func (s *Session) checkDesync(now time.Time) {
	for {
		live := make([]*Player, 0, len(s.players))
		for _, p := range s.players {
			if p.deleteMe || p.disconnected {
				continue
			}
			for len(p.checksums) > 0 && p.syncCounter-uint32(len(p.checksums)) < s.checkedRounds {
				p.checksums = p.checksums[1:]
			}
			if len(p.checksums) == 0 {
				return
			}
			live = append(live, p)
		}
		if len(live) == 0 {
			return
		}

		fronts := make([]uint32, len(live))
		for i, p := range live {
			fronts[i] = p.checksums[0]
			p.checksums = p.checksums[1:]
		}
		s.checkedRounds++
		evict := desyncEvictions(fronts)
		if len(evict) == 0 {
			continue
		}

		names := make([]string, 0, len(evict))
		for _, i := range evict {
			names = append(names, live[i].Name)
		}
		s.logger.Warn().Strs("players", names).Int("evicted", len(evict)).Int("total", len(live)).Msg("desync detected")
		s.SendAllChat("Warning! Desync detected (" + strings.Join(names, ", ") + ")")
		for _, i := range evict {
			p := live[i]
			s.removePlayer(p, "was dropped due to desync", protocol.LeaveLost)
			s.publish(events.EventPlayerDesync, s.playerPayload(p, "desync"))
		}
	}
}

// eventChat relays a chat line or applies a lobby settings request.
func (s *Session) eventChat(p *Player, c *protocol.Chat) {
	switch c.Flag {
	case protocol.ChatMessage, protocol.ChatMessageExtended:
		s.relayChat(p, c)
	case protocol.ChatTeamChange:
		s.requestTeam(p, c.Value)
	case protocol.ChatColourChange:
		s.requestColour(p, c.Value)
	case protocol.ChatRaceChange:
		s.requestRace(p, c.Value)
	case protocol.ChatHandicapChange:
		s.requestHandicap(p, c.Value)
	}
}

func (s *Session) relayChat(p *Player, c *protocol.Chat) {
	msg := c.Message
	if len(msg) > 1 && msg[0] == s.cfg.CommandTrigger && s.collab.Commands != nil {
		cmd, payload, _ := strings.Cut(msg[1:], " ")
		s.logger.Debug().Str("player", p.Name).Str("command", cmd).Msg("chat command")
		s.collab.Commands.HandleCommand(s, p.PID, strings.ToLower(cmd), strings.TrimSpace(payload))
		return
	}
	if p.muted {
		s.logger.Debug().Str("player", p.Name).Msg("muted player chat dropped")
		return
	}

	to := make([]uint8, 0, len(c.To))
	for _, pid := range c.To {
		if o := s.Player(pid); o != nil {
			to = append(to, pid)
		}
	}
	if len(to) == 0 {
		return
	}

	var frame []byte
	if s.state == StateLobby {
		frame = protocol.BuildChatFromHost(p.PID, to, msg)
	} else {
		frame = protocol.BuildChatFromHostInGame(p.PID, to, c.ExtraFlags, msg)
	}
	for _, pid := range to {
		s.Player(pid).Send(frame)
	}
	s.logger.Trace().Str("player", p.Name).Str("message", msg).Msg("chat")
}

func (s *Session) requestTeam(p *Player, team uint8) {
	if s.state != StateLobby || s.countingDown || team > slot.ObserverTeam {
		return
	}
	idx := s.slots.FindPID(p.PID)
	if idx < 0 || s.slots[idx].Team == team {
		return
	}
	if s.opts.CustomForces {
		target := s.slots.FirstOpenOnTeam(team)
		if target >= 0 && s.slots.Swap(idx, target, s.opts) {
			s.sendSlotInfo()
		}
		return
	}
	if s.opts.FixedPlayerSettings {
		return
	}
	switch {
	case team == slot.ObserverTeam:
		if !s.gameMap.AllowsObservers() {
			return
		}
		s.slots[idx].Colour = slot.ObserverColour
	case s.slots[idx].Colour == slot.ObserverColour:
		c, ok := s.freeColour()
		if !ok {
			return
		}
		s.slots[idx].Colour = c
	}
	s.slots[idx].Team = team
	s.sendSlotInfo()
}

// freeColour returns the lowest player colour no slot holds. Open slots keep
// their colour for the next joiner, so their colours are not free.
func (s *Session) freeColour() (uint8, bool) {
	var held [slot.MaxColours]bool
	for _, sl := range s.slots {
		if sl.Colour < slot.MaxColours {
			held[sl.Colour] = true
		}
	}
	for c, taken := range held {
		if !taken {
			return uint8(c), true
		}
	}
	return 0, false
}

func (s *Session) requestColour(p *Player, colour uint8) {
	if s.state != StateLobby || s.countingDown || s.opts.FixedPlayerSettings {
		return
	}
	if idx := s.slots.FindPID(p.PID); idx >= 0 && s.slots.SetColour(idx, colour) {
		s.sendSlotInfo()
	}
}

func (s *Session) requestRace(p *Player, race uint8) {
	if s.state != StateLobby || s.countingDown || s.opts.FixedPlayerSettings {
		return
	}
	r := slot.Race(race) &^ slot.RaceSelectable
	switch r {
	case slot.RaceHuman, slot.RaceOrc, slot.RaceNightElf, slot.RaceUndead, slot.RaceRandom:
	default:
		return
	}
	if idx := s.slots.FindPID(p.PID); idx >= 0 && !s.slots[idx].Observer() {
		s.slots[idx].Race = r | slot.RaceSelectable
		s.sendSlotInfo()
	}
}

func (s *Session) requestHandicap(p *Player, h uint8) {
	if s.state != StateLobby || s.countingDown || s.opts.FixedPlayerSettings || !slot.ValidHandicap(h) {
		return
	}
	if idx := s.slots.FindPID(p.PID); idx >= 0 && s.slots[idx].Handicap != h {
		s.slots[idx].Handicap = h
		s.sendSlotInfo()
	}
}

// eventGameLoaded records a finished loader. Everyone who finished earlier
// learns about it now; the new loader replays everything it missed.
func (s *Session) eventGameLoaded(p *Player, now time.Time) {
	if s.state != StateLoading || p.finishedLoading {
		return
	}
	p.finishedLoading = true
	p.finishedLoadingAt = now
	s.logger.Info().Str("player", p.Name).Dur("load_time", now.Sub(s.startedLoadingAt)).Msg("player finished loading")

	for _, e := range s.loadEvents {
		p.Send(e)
	}

	loaded := protocol.BuildGameLoadedOthers(p.PID)
	lagMS := uint32(now.Sub(s.startedLoadingAt).Milliseconds())
	var loaders []protocol.LagEntry
	for _, o := range s.players {
		if o == p || o.deleteMe {
			continue
		}
		if o.finishedLoading {
			o.Send(protocol.BuildStopLag(p.PID, lagMS))
			o.Send(loaded)
		} else {
			loaders = append(loaders, protocol.LagEntry{PID: o.PID, LagMS: lagMS})
		}
	}
	s.loadEvents = append(s.loadEvents, loaded)
	if len(loaders) > 0 {
		p.Send(protocol.BuildStartLag(loaders))
		return
	}
	s.checkAllLoaded(now)
}

// checkAllLoaded starts the game once nobody is still loading.
func (s *Session) checkAllLoaded(now time.Time) {
	if s.state != StateLoading {
		return
	}
	for _, p := range s.players {
		if !p.finishedLoading && !p.deleteMe {
			return
		}
	}

	s.state = StateRunning
	s.loadedAt = now
	s.lastActionSent = now
	s.lastActionLateBy = 0
	s.loadEvents = nil
	s.logger.Info().Dur("load_time", now.Sub(s.startedLoadingAt)).Msg("game loaded")
	s.publish(events.EventGameLoaded, s.gamePayload(""))
}

// eventMapSize handles a download progress report.
func (s *Session) eventMapSize(p *Player, flag uint8, size uint32, now time.Time) {
	if s.state != StateLobby {
		return
	}
	idx := s.slots.FindPID(p.PID)
	if idx < 0 {
		return
	}
	mapSize := s.gameMap.Size

	if size == mapSize {
		if p.downloadStarted && !p.downloadFinished {
			p.downloadFinished = true
			s.logger.Info().Str("player", p.Name).Dur("elapsed", now.Sub(p.downloadStartedAt)).Msg("map download finished")
		}
		p.downloadQueued = false
		if s.slots[idx].Download != 100 {
			s.slots[idx].Download = 100
			s.sendSlotInfo()
		}
		return
	}

	if !s.cfg.AllowDownloads || len(s.mapData) == 0 {
		s.removePlayer(p, "doesn't have the map and map downloads are disabled", protocol.LeaveLobby)
		return
	}

	if flag == 1 && !p.downloadStarted && !p.downloadQueued {
		p.downloadQueued = true
		s.startQueuedDownloads(now)
		return
	}

	if p.downloadStarted {
		p.lastMapPartAcked = size
		pct := uint8(uint64(size) * 100 / uint64(mapSize))
		if s.slots[idx].Download != pct {
			s.slots[idx].Download = pct
			s.slotInfoDirty = true
		}
	}
}
