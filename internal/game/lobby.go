package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/protocol"
	"github.com/energizer-project/relayhost/internal/slot"
)

// Countdown errors.
var (
	ErrNotInLobby       = errors.New("game is not in the lobby")
	ErrAlreadyCounting  = errors.New("countdown already running")
	ErrDownloadsPending = errors.New("players are still downloading the map")
	ErrPingsPending     = errors.New("players have not been pinged enough yet")
	ErrNoPlayers        = errors.New("no players in the lobby")
)

func (s *Session) updateLobby(now time.Time) {
	s.updateRefresh(now)

	if now.Sub(s.lastDownload) >= DownloadInterval {
		s.lastDownload = now
		s.updateDownloads(now)
		if s.slotInfoDirty {
			s.sendSlotInfo()
		}
	}

	if s.countingDown && now.Sub(s.lastCountdown) >= CountdownInterval {
		s.lastCountdown = now
		s.SendAllChat(fmt.Sprintf("%d. . .", s.countdownCounter))
		s.countdownCounter--
		if s.countdownCounter <= 0 {
			s.startLoading(now)
			return
		}
	}

	for _, p := range s.players {
		if p.Reserved && !p.deleteMe {
			s.lastReservedSeen = now
			break
		}
	}
	if s.cfg.LobbyTimeLimit > 0 && now.Sub(s.lastReservedSeen) >= s.cfg.LobbyTimeLimit {
		s.logger.Info().Dur("limit", s.cfg.LobbyTimeLimit).Msg("lobby abandoned by reserved players")
		s.Close("lobby time limit reached")
	}
}

// updateRefresh keeps the advertisement fresh and reacts to failures.
func (s *Session) updateRefresh(now time.Time) {
	if s.refreshPending != nil {
		select {
		case err, ok := <-s.refreshPending:
			s.refreshPending = nil
			if ok && err != nil {
				s.eventRefreshFailed(err)
			}
		default:
		}
	}

	if !s.public || s.refreshFailed || s.refreshPending != nil || s.collab.Advertiser == nil {
		return
	}
	if now.Sub(s.lastRefresh) < RefreshInterval || s.slots.Count(slot.StatusOpen) == 0 {
		return
	}
	s.lastRefresh = now
	s.refreshPending = s.collab.Advertiser.Refresh(s.advert(now))
}

func (s *Session) eventRefreshFailed(err error) {
	s.refreshFailed = true
	s.logger.Warn().Err(err).Msg("advertisement refresh failed")
	s.SendAllChat(fmt.Sprintf("Unable to advertise game [%s], try another name", s.name))
	if len(s.Players()) == 0 {
		s.Close("advertisement refresh failed")
	}
}

// advert describes the lobby for the advertiser.
func (s *Session) advert(now time.Time) protocol.GameAdvert {
	var port uint16
	if s.collab.Listener != nil {
		port = s.collab.Listener.Port()
	}
	return protocol.GameAdvert{
		Product:     protocol.ProductTFT,
		Version:     s.cfg.Version,
		HostCounter: s.id,
		EntryKey:    s.entryKey,
		GameName:    s.name,
		StatString:  s.gameMap.StatString(s.cfg.VirtualHostName).Bytes(),
		SlotsTotal:  uint32(len(s.slots)),
		GameType:    s.gameMap.GameType,
		SlotsOpen:   uint32(s.slots.Count(slot.StatusOpen)),
		UpTime:      uint32(now.Sub(s.createdAt).Seconds()),
		Port:        port,
	}
}

// Advert returns the current advertisement of a lobby.
func (s *Session) Advert(now time.Time) protocol.GameAdvert { return s.advert(now) }

func (s *Session) activeDownloads() int {
	n := 0
	for _, p := range s.players {
		if p.downloadStarted && !p.downloadFinished && !p.deleteMe {
			n++
		}
	}
	return n
}

// startQueuedDownloads promotes queued downloaders while the concurrency
// budget allows.
func (s *Session) startQueuedDownloads(now time.Time) {
	for _, p := range s.players {
		if !p.downloadQueued || p.downloadStarted || p.deleteMe {
			continue
		}
		if s.cfg.MaxDownloaders > 0 && s.activeDownloads() >= s.cfg.MaxDownloaders {
			return
		}
		p.downloadQueued = false
		p.downloadStarted = true
		p.downloadStartedAt = now
		p.lastMapPartSent = 0
		p.lastMapPartAcked = 0
		p.Send(protocol.BuildStartDownload(s.hostPID()))
		s.logger.Info().Str("player", p.Name).Str("size", humanize.Bytes(uint64(len(s.mapData)))).Msg("map download started")
		if idx := s.slots.FindPID(p.PID); idx >= 0 {
			s.slots[idx].Download = 0
			s.slotInfoDirty = true
		}
	}
}

// updateDownloads sends map parts to every active downloader within the
// part window and the shared byte budget.
func (s *Session) updateDownloads(now time.Time) {
	s.startQueuedDownloads(now)
	size := uint32(len(s.mapData))
	if size == 0 {
		return
	}
	for _, p := range s.players {
		if !p.downloadStarted || p.downloadFinished || p.deleteMe {
			continue
		}
		for p.lastMapPartSent < size && p.lastMapPartSent < p.lastMapPartAcked+protocol.MapPartSize*MapPartWindow {
			n := min(protocol.MapPartSize, int(size-p.lastMapPartSent))
			if !s.downloadLimiter.AllowN(now, n) {
				return
			}
			p.Send(protocol.BuildMapPart(p.PID, s.hostPID(), p.lastMapPartSent, s.mapData[p.lastMapPartSent:]))
			p.lastMapPartSent += uint32(n)
		}
	}
}

// updatePings pings everyone and enforces the lobby ping limit.
func (s *Session) updatePings(now time.Time) {
	if now.Sub(s.lastPing) < PingInterval {
		return
	}
	s.lastPing = now
	s.broadcast(protocol.BuildPingFromHost(uint32(s.elapsed(now).Milliseconds())))

	if s.state != StateLobby || s.cfg.AutoKickPingMS <= 0 || s.countingDown {
		return
	}
	limit := time.Duration(s.cfg.AutoKickPingMS) * time.Millisecond
	for _, p := range s.players {
		if p.deleteMe || p.Reserved || p.NumPings() < MinPingsToStart {
			continue
		}
		if ping := p.Ping(); ping > limit {
			s.removePlayer(p, fmt.Sprintf("was kicked for excessive ping %d > %d", ping.Milliseconds(), s.cfg.AutoKickPingMS), protocol.LeaveLobby)
		}
	}
}

// StartCountdown begins the five tick countdown to loading. Unless force is
// set every human must have the whole map and enough ping samples.
func (s *Session) StartCountdown(force bool, now time.Time) error {
	if s.state != StateLobby {
		return ErrNotInLobby
	}
	if s.countingDown {
		return ErrAlreadyCounting
	}
	if len(s.Players()) == 0 {
		return ErrNoPlayers
	}
	if !force {
		var downloading, unpinged []string
		for _, p := range s.Players() {
			idx := s.slots.FindPID(p.PID)
			if idx >= 0 && s.slots[idx].Human() && s.slots[idx].Download != 100 {
				downloading = append(downloading, p.Name)
			}
			if p.NumPings() < MinPingsToStart {
				unpinged = append(unpinged, p.Name)
			}
		}
		if len(downloading) > 0 {
			s.SendAllChat(fmt.Sprintf("Players still downloading the map: %v", downloading))
			return ErrDownloadsPending
		}
		if len(unpinged) > 0 {
			s.SendAllChat(fmt.Sprintf("Players not yet pinged %d times: %v", MinPingsToStart, unpinged))
			return ErrPingsPending
		}
	}

	s.countingDown = true
	s.countdownCounter = CountdownTicks
	s.lastCountdown = now
	s.logger.Info().Bool("force", force).Msg("countdown started")
	return nil
}

// startLoading freezes the lobby and sends the game start sequence.
func (s *Session) startLoading(now time.Time) {
	s.countingDown = false

	for _, p := range s.players {
		if p.deleteMe {
			continue
		}
		if idx := s.slots.FindPID(p.PID); idx >= 0 && s.slots[idx].Download != 100 {
			s.removePlayer(p, "was kicked for not having the map", protocol.LeaveLobby)
		}
	}
	s.sweepPlayers(now)
	if len(s.players) == 0 {
		s.Close("no players left at countdown end")
		return
	}

	if s.virtualHostPID != 0 {
		s.broadcast(protocol.BuildPlayerLeaveOthers(s.virtualHostPID, protocol.LeaveLobby))
		s.virtualHostPID = 0
	}
	if s.cfg.HCLCommand != "" {
		if s.slots.EncodeHCL(s.cfg.HCLCommand) {
			s.logger.Info().Str("hcl", s.cfg.HCLCommand).Msg("encoded HCL command")
		} else {
			s.logger.Warn().Str("hcl", s.cfg.HCLCommand).Msg("HCL command does not fit, skipping")
		}
	}
	s.sendSlotInfo()
	s.broadcast(protocol.BuildCountdownStart())
	s.broadcast(protocol.BuildCountdownEnd())
	for _, f := range s.fakePlayers {
		s.broadcast(protocol.BuildGameLoadedOthers(f))
	}

	s.closeLobbyResources()
	for _, pc := range s.pending {
		pc.close()
	}
	s.pending = nil
	s.mapData = nil

	s.state = StateLoading
	s.startedLoadingAt = now
	s.lastLoadKeepAll = now
	s.startPlayers = len(s.players)
	s.kick = nil
	s.logger.Info().Int("players", s.startPlayers).Msg("game loading")
	s.publish(events.EventGameStarted, s.gamePayload(""))
}

// updateLoading keeps finished loaders from timing out while others load.
func (s *Session) updateLoading(now time.Time) {
	if len(s.players) > 0 {
		s.checkAllLoaded(now)
	}
	if now.Sub(s.lastLoadKeepAll) < LoadingKeepalive {
		return
	}
	s.lastLoadKeepAll = now

	lagMS := uint32(now.Sub(s.startedLoadingAt).Milliseconds())
	var loaders []protocol.LagEntry
	for _, p := range s.players {
		if !p.finishedLoading && !p.deleteMe {
			loaders = append(loaders, protocol.LagEntry{PID: p.PID, LagMS: lagMS})
		}
	}
	if len(loaders) == 0 {
		return
	}
	empty := protocol.BuildIncomingAction(uint16(s.cfg.LatencyMS), nil)
	for _, p := range s.players {
		if !p.finishedLoading || p.deleteMe {
			continue
		}
		for _, l := range loaders {
			p.Send(protocol.BuildStopLag(l.PID, l.LagMS))
		}
		p.Send(empty)
		p.ignoreKeepalives++
		p.Send(protocol.BuildStartLag(loaders))
	}
}

func (s *Session) slotLayout() protocol.SlotLayout {
	return protocol.SlotLayout{
		Slots:       s.slots,
		RandomSeed:  s.seed,
		LayoutStyle: s.opts.LayoutStyle(),
		PlayerSlots: uint8(s.gameMap.PlayerSlots()),
	}
}

func (s *Session) sendSlotInfo() {
	s.slotInfoDirty = false
	s.broadcast(protocol.BuildSlotInfo(protocol.EncodeSlotLayout(s.slotLayout())))
}

func (s *Session) broadcast(frame []byte) {
	s.broadcastExcept(nil, frame)
}

func (s *Session) broadcastExcept(except *Player, frame []byte) {
	for _, p := range s.players {
		if p != except && !p.deleteMe {
			p.Send(frame)
		}
	}
}

// SendAllChat sends a host message to every player.
func (s *Session) SendAllChat(msg string) {
	to := make([]uint8, 0, len(s.players))
	for _, p := range s.players {
		if !p.deleteMe {
			to = append(to, p.PID)
		}
	}
	if len(to) == 0 {
		return
	}
	s.broadcast(s.hostChat(to, msg))
}

// SendChat sends a host message to one player.
func (s *Session) SendChat(pid uint8, msg string) {
	if p := s.Player(pid); p != nil {
		p.Send(s.hostChat([]uint8{pid}, msg))
	}
}

func (s *Session) hostChat(to []uint8, msg string) []byte {
	if len(msg) > 254 {
		msg = msg[:254]
	}
	if s.state == StateLobby {
		return protocol.BuildChatFromHost(s.hostPID(), to, msg)
	}
	return protocol.BuildChatFromHostInGame(s.hostPID(), to, protocol.ChatToAll, msg)
}

func fakePlayerName(pid uint8) string {
	return fmt.Sprintf("FakePlayer[%d]", pid)
}

// CreateFakePlayer seats a placeholder player in the first open slot.
func (s *Session) CreateFakePlayer() (uint8, error) {
	if s.state != StateLobby || s.countingDown {
		return 0, ErrSlotsFrozen
	}
	idx := s.slots.FirstOpen()
	if idx < 0 {
		return 0, ErrBadSlot
	}
	pid := s.allocatePID()
	if pid == 0 {
		return 0, ErrBadSlot
	}
	s.fakePlayers = append(s.fakePlayers, pid)
	s.slots.Occupy(idx, pid, 100)
	s.broadcast(protocol.BuildPlayerInfo(pid, fakePlayerName(pid), nil, nil))
	s.sendSlotInfo()
	return pid, nil
}

// DeleteFakePlayer removes every fake player from the lobby.
func (s *Session) DeleteFakePlayer() bool {
	if s.state != StateLobby || len(s.fakePlayers) == 0 {
		return false
	}
	for _, f := range s.fakePlayers {
		if idx := s.slots.FindPID(f); idx >= 0 {
			s.slots.Open(idx)
		}
		s.broadcast(protocol.BuildPlayerLeaveOthers(f, protocol.LeaveLobby))
	}
	s.fakePlayers = nil
	s.sendSlotInfo()
	return true
}
