// Package reconnect serves the reconnect port. Clients that lost their game
// connection present {pid, key, last packet} here and, once a running
// session accepts them, continue on the new socket.
package reconnect

import (
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/game"
	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// HandshakeTimeout is how long a new connection may take to present a
// reconnect request.
const HandshakeTimeout = 12 * time.Second

// Resolver finds the session owning a reconnecting player and attaches the
// stream to it. It returns game.ErrReconnectNotFound when no session knows
// the player.
type Resolver interface {
	Reconnect(req *protocol.ReconnectRequest, stream network.Stream, now time.Time) error
}

type attempt struct {
	stream    network.Stream
	arrivedAt time.Time
	done      bool
	handedOff bool
}

// Listener tracks in-flight reconnect handshakes. It is driven by the host
// reactor and is not safe for concurrent use.
type Listener struct {
	acceptor game.Acceptor
	attempts []*attempt
	logger   zerolog.Logger

	accepted int
	rejected int
}

// NewListener wraps an acceptor bound to the reconnect port.
func NewListener(acceptor game.Acceptor) *Listener {
	return &Listener{
		acceptor: acceptor,
		logger:   log.With().Str("component", "reconnect").Logger(),
	}
}

// Port returns the bound reconnect port.
func (l *Listener) Port() uint16 { return l.acceptor.Port() }

// Pending is the number of handshakes in progress.
func (l *Listener) Pending() int { return len(l.attempts) }

// Stats returns how many reconnects were accepted and rejected.
func (l *Listener) Stats() (accepted, rejected int) { return l.accepted, l.rejected }

// Update accepts new connections and advances every handshake.
func (l *Listener) Update(now time.Time, r Resolver) {
	for {
		s, ok := l.acceptor.Accept()
		if !ok {
			break
		}
		l.attempts = append(l.attempts, &attempt{stream: s, arrivedAt: now})
	}

	for _, a := range l.attempts {
		l.updateAttempt(a, now, r)
	}
	l.attempts = slices.DeleteFunc(l.attempts, func(a *attempt) bool {
		if a.done && !a.handedOff {
			a.stream.DoSend()
			a.stream.Close()
		}
		return a.done
	})
}

func (l *Listener) updateAttempt(a *attempt, now time.Time, r Resolver) {
	st := a.stream
	st.DoRecv(now)
	if st.Err() != nil || st.RemoteClosed() {
		a.done = true
		return
	}
	if now.Sub(a.arrivedAt) >= HandshakeTimeout {
		l.logger.Debug().Str("ip", st.RemoteIP().String()).Msg("reconnect handshake timed out")
		a.done = true
		return
	}

	for {
		f, err := protocol.ExtractFrame(st.RecvBuffer())
		if err != nil {
			l.logger.Debug().Err(err).Str("ip", st.RemoteIP().String()).Msg("bad frame on reconnect port")
			a.done = true
			return
		}
		if f == nil {
			return
		}
		if !f.IsGPS() || f.Type != protocol.GPSReconnect {
			continue
		}

		req, err := protocol.ParseGPSReconnect(f.Payload())
		if err != nil {
			l.reject(a, protocol.GPSRejectInvalid)
			return
		}
		err = r.Reconnect(req, st, now)
		switch {
		case err == nil:
			l.accepted++
			a.done = true
			a.handedOff = true
			l.logger.Info().Uint8("pid", req.PID).Str("ip", st.RemoteIP().String()).Msg("reconnect accepted")
		case errors.Is(err, game.ErrReconnectNotFound):
			l.reject(a, protocol.GPSRejectNotFound)
		default:
			l.reject(a, protocol.GPSRejectInvalid)
		}
		return
	}
}

func (l *Listener) reject(a *attempt, reason uint32) {
	l.rejected++
	a.stream.Send(protocol.BuildGPSReject(reason))
	a.done = true
	l.logger.Info().Uint32("reason", reason).Str("ip", a.stream.RemoteIP().String()).Msg("reconnect rejected")
}

// Close drops every pending handshake and the acceptor.
func (l *Listener) Close() error {
	for _, a := range l.attempts {
		a.stream.Close()
	}
	l.attempts = nil
	return l.acceptor.Close()
}
