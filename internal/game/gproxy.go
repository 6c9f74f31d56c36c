package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/hako/durafmt"

	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// Reconnect errors. Both are answered with GPS_REJECT by the listener.
var (
	ErrReconnectNotFound = errors.New("no running game has that player")
	ErrReconnectInvalid  = errors.New("reconnect key or packet number does not match")
)

func (s *Session) dispatchGPS(p *Player, f *protocol.Frame, now time.Time) {
	switch f.Type {
	case protocol.GPSInit:
		if !s.cfg.GProxy || p.gproxy {
			return
		}
		p.gproxy = true
		p.gproxyKey = s.rng.Uint32()
		p.lastGProxyAck = now
		p.stream.Send(protocol.BuildGPSInit(s.cfg.ReconnectPort, p.PID, p.gproxyKey, s.cfg.GraceActions))
		s.logger.Info().Str("player", p.Name).Msg("player is using reconnect protocol")
	case protocol.GPSAck:
		last, err := protocol.ParseGPSAck(f.Payload())
		if err != nil {
			return
		}
		p.ack(last)
	default:
		s.logger.Debug().Uint8("type", f.Type).Str("player", p.Name).Msg("ignoring reconnect frame")
	}
}

// updateGProxy acknowledges received frames and reminds everyone about
// players who are reconnecting.
func (s *Session) updateGProxy(now time.Time) {
	if !s.cfg.GProxy {
		return
	}
	window := s.cfg.reconnectWindow()
	for _, p := range s.players {
		if !p.gproxy || p.deleteMe {
			continue
		}
		if !p.disconnected && now.Sub(p.lastGProxyAck) >= GProxyAckInterval {
			p.lastGProxyAck = now
			p.stream.Send(protocol.BuildGPSAck(p.totalReceived))
		}
		if p.disconnected && now.Sub(p.lastNotice) >= GProxyNoticeInterval {
			p.lastNotice = now
			left := window - now.Sub(p.disconnectedAt)
			if left > 0 {
				s.SendAllChat(fmt.Sprintf("%s is reconnecting, %s remaining", p.Name, durafmt.Parse(left.Truncate(time.Second)).LimitFirstN(2)))
			}
		}
	}
}

// CanReconnect reports whether pid is a reconnect-capable player here.
func (s *Session) CanReconnect(pid uint8) bool {
	if s.state != StateRunning || !s.cfg.GProxy {
		return false
	}
	p := s.Player(pid)
	return p != nil && p.gproxy
}

// TryReconnect attaches stream to the player named by req. On success the
// old connection is dropped and every unacknowledged frame is replayed.
// A failed attempt leaves the player untouched.
func (s *Session) TryReconnect(req *protocol.ReconnectRequest, stream network.Stream, now time.Time) error {
	if !s.CanReconnect(req.PID) {
		return ErrReconnectNotFound
	}
	p := s.Player(req.PID)
	if p.gproxyKey != req.Key || req.LastPacket > p.totalSent {
		s.logger.Warn().Str("player", p.Name).Uint32("last_packet", req.LastPacket).Msg("rejected reconnect attempt")
		return ErrReconnectInvalid
	}

	p.detach()
	p.stream = stream
	p.disconnected = false
	p.noticeSent = false
	p.lastGProxyAck = now

	stream.Send(protocol.BuildGPSReconnect(p.totalReceived))
	p.ack(req.LastPacket)
	for _, f := range p.gproxyBuffer {
		stream.Send(f.data)
	}

	s.logger.Info().Str("player", p.Name).Int("replayed", len(p.gproxyBuffer)).Msg("player reconnected")
	s.SendAllChat(p.Name + " has reconnected")
	s.publish(events.EventPlayerReconnected, s.playerPayload(p, ""))
	return nil
}
