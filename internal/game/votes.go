package game

import (
	"fmt"
	"time"

	"github.com/energizer-project/relayhost/internal/protocol"
)

type kickVote struct {
	target  uint8
	name    string
	started time.Time
}

// eventDropRequest records a vote to drop the lagging players.
func (s *Session) eventDropRequest(p *Player, now time.Time) {
	if s.state != StateRunning || !s.lagging || p.lagging || p.dropVote {
		return
	}
	if now.Sub(s.startedLaggingAt) < DropVoteDelay {
		s.SendChat(p.PID, fmt.Sprintf("Wait %d seconds before voting to drop", int((DropVoteDelay - now.Sub(s.startedLaggingAt)).Seconds()+1)))
		return
	}
	p.dropVote = true

	votes, eligible := 0, 0
	for _, o := range s.players {
		if o.deleteMe || o.lagging {
			continue
		}
		eligible++
		if o.dropVote {
			votes++
		}
	}
	s.SendAllChat(fmt.Sprintf("%s voted to drop laggers (%d/%d)", p.Name, votes, eligible))
	if votes*2 > eligible {
		s.StopLaggers("lagged out (dropped by vote)")
	}
}

// StartVoteKick opens a vote to kick target on behalf of voter.
func (s *Session) StartVoteKick(voter uint8, target string, now time.Time) error {
	if s.kick != nil {
		return fmt.Errorf("a vote to kick %s is already in progress", s.kick.name)
	}
	t := s.PlayerByName(target)
	if t == nil {
		return fmt.Errorf("no player matches %q", target)
	}
	if t.Reserved {
		return fmt.Errorf("%s is reserved and cannot be kicked", t.Name)
	}
	if len(s.Players()) < 3 {
		return fmt.Errorf("at least three players are needed to vote")
	}
	for _, p := range s.players {
		p.kickVote = false
	}
	s.kick = &kickVote{target: t.PID, name: t.Name, started: now}
	s.SendAllChat(fmt.Sprintf("A vote to kick %s has started", t.Name))
	return s.CastKickVote(voter)
}

// CastKickVote records a yes vote and kicks the target once the threshold
// is reached.
func (s *Session) CastKickVote(voter uint8) error {
	if s.kick == nil {
		return fmt.Errorf("no kick vote in progress")
	}
	p := s.Player(voter)
	if p == nil || p.PID == s.kick.target {
		return fmt.Errorf("player cannot vote")
	}
	p.kickVote = true

	votes, eligible := 0, 0
	for _, o := range s.players {
		if o.deleteMe || o.PID == s.kick.target {
			continue
		}
		eligible++
		if o.kickVote {
			votes++
		}
	}
	needed := (eligible*s.cfg.VoteKickPercentage + 99) / 100
	if votes < needed {
		s.SendAllChat(fmt.Sprintf("%s voted to kick %s (%d/%d)", p.Name, s.kick.name, votes, needed))
		return nil
	}

	target := s.Player(s.kick.target)
	s.kick = nil
	if target != nil {
		s.logger.Info().Str("player", target.Name).Int("votes", votes).Msg("vote kick passed")
		s.removePlayer(target, "was kicked by vote", protocol.LeaveLost)
	}
	return nil
}

func (s *Session) updateKickVote(now time.Time) {
	if s.kick != nil && now.Sub(s.kick.started) >= VoteKickExpiry {
		s.SendAllChat(fmt.Sprintf("The vote to kick %s has expired", s.kick.name))
		s.kick = nil
	}
}

// KickPlayer removes a player by operator request.
func (s *Session) KickPlayer(pid uint8, reason string) bool {
	p := s.Player(pid)
	if p == nil {
		return false
	}
	if reason == "" {
		reason = "was kicked by the host"
	}
	s.removePlayer(p, reason, protocol.LeaveLost)
	return true
}

// Mute toggles chat relay for a player.
func (s *Session) Mute(pid uint8, muted bool) bool {
	p := s.Player(pid)
	if p == nil {
		return false
	}
	p.muted = muted
	return true
}
