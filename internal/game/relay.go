package game

import (
	"time"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/protocol"
)

func (s *Session) updateRunning(now time.Time) {
	s.updateLag(now)

	if !s.lagging && !now.Before(s.lastActionSent.Add(nextRelayInterval(s.latency(), s.lastActionLateBy))) {
		s.sendActions(now)
	}

	if !s.gameOverAt.IsZero() && now.Sub(s.gameOverAt) >= GameOverDelay {
		s.logger.Info().Msg("gameover timer finished")
		s.StopPlayers("was disconnected (gameover timer finished)")
	}
}

// updateLag applies the lag hysteresis to every player and maintains the
// lag overlay.
func (s *Session) updateLag(now time.Time) {
	limit := uint32(s.cfg.SyncLimit)

	var started []protocol.LagEntry
	for _, p := range s.players {
		if p.deleteMe {
			continue
		}
		deficit := syncDeficit(s.syncCounter, p.syncCounter)
		next := nextLagState(p.lagging, deficit, limit)
		switch {
		case next && !p.lagging:
			p.lagging = true
			p.startedLaggingAt = now
			p.dropVote = false
			started = append(started, protocol.LagEntry{PID: p.PID, LagMS: 0})
			s.logger.Info().Str("player", p.Name).Uint32("deficit", deficit).Msg("player started lagging")
		case !next && p.lagging:
			lagFor := now.Sub(p.startedLaggingAt)
			p.lagging = false
			s.broadcast(protocol.BuildStopLag(p.PID, uint32(lagFor.Milliseconds())))
			s.logger.Info().Str("player", p.Name).Dur("lagged", lagFor).Msg("player stopped lagging")
		}
	}

	if len(started) > 0 {
		s.broadcast(protocol.BuildStartLag(started))
		if !s.lagging {
			s.lagging = true
			s.startedLaggingAt = now
			s.lastLagScreen = now
		}
		s.publish(events.EventLagStarted, s.lagPayload(0))
	}

	if !s.lagging {
		return
	}
	if len(s.laggers()) == 0 {
		lagFor := now.Sub(s.startedLaggingAt)
		s.lagging = false
		s.lastActionSent = now
		s.lastActionLateBy = 0
		for _, p := range s.players {
			p.dropVote = false
		}
		s.publish(events.EventLagStopped, s.lagPayload(lagFor))
		return
	}

	if now.Sub(s.lastLagScreen) >= s.lagScreenInterval() {
		s.refreshLagScreen(now)
	}
}

func (s *Session) laggers() []*Player {
	var out []*Player
	for _, p := range s.players {
		if p.lagging && !p.deleteMe {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) lagPayload(d time.Duration) events.LagPayload {
	lp := events.LagPayload{GameID: s.id, Duration: d}
	for _, p := range s.laggers() {
		lp.Players = append(lp.Players, p.Name)
	}
	return lp
}

// lagScreenInterval is how long the overlay may stay up before clients need
// game traffic to stay connected. Reconnecting clients tolerate longer
// gaps.
func (s *Session) lagScreenInterval() time.Duration {
	for _, p := range s.players {
		if p.gproxy && !p.deleteMe {
			return s.cfg.reconnectWindow()
		}
	}
	return LagScreenRefresh
}

// refreshLagScreen briefly lifts the overlay to push one empty update so
// clients do not drop the connection.
func (s *Session) refreshLagScreen(now time.Time) {
	s.lastLagScreen = now
	laggers := s.laggers()
	entries := make([]protocol.LagEntry, 0, len(laggers))
	for _, l := range laggers {
		lagMS := uint32(now.Sub(l.startedLaggingAt).Milliseconds())
		s.broadcast(protocol.BuildStopLag(l.PID, lagMS))
		entries = append(entries, protocol.LagEntry{PID: l.PID, LagMS: lagMS})
	}
	s.syncCounter++
	s.broadcast(protocol.BuildIncomingAction(uint16(s.cfg.LatencyMS), nil))
	s.broadcast(protocol.BuildStartLag(entries))
	s.logger.Debug().Int("laggers", len(entries)).Msg("refreshed lag screen")
}

// sendActions flushes the queued actions as one relay step.
func (s *Session) sendActions(now time.Time) {
	latency := s.latency()
	expected := nextRelayInterval(latency, s.lastActionLateBy)
	lateBy, starved := relayLateness(now.Sub(s.lastActionSent), expected, latency)
	if starved {
		s.logger.Warn().Dur("latency", latency).Dur("actual", now.Sub(s.lastActionSent)).Msg("relay is running late, host may be starved")
	}

	s.syncCounter++
	interval := uint16(s.cfg.LatencyMS)
	batches := batchActions(s.actions, protocol.MaxActionBatch)
	s.actions = s.actions[:0]

	if len(batches) == 0 {
		s.broadcast(protocol.BuildIncomingAction(interval, nil))
	} else {
		for _, b := range batches[:len(batches)-1] {
			s.broadcast(protocol.BuildIncomingAction2(b))
		}
		s.broadcast(protocol.BuildIncomingAction(interval, batches[len(batches)-1]))
	}

	s.lastActionSent = now
	s.lastActionLateBy = lateBy
}

// StopLaggers removes every lagging player.
func (s *Session) StopLaggers(reason string) int {
	n := 0
	for _, p := range s.laggers() {
		s.removePlayer(p, reason, protocol.LeaveDisconnect)
		n++
	}
	return n
}

// StopPlayers removes every player from a started game.
func (s *Session) StopPlayers(reason string) {
	for _, p := range s.players {
		s.removePlayer(p, reason, protocol.LeaveDisconnect)
	}
}
