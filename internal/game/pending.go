package game

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// PendingConnection is an accepted socket that has not joined yet.
type PendingConnection struct {
	stream   network.Stream
	joinReq  *protocol.JoinRequest
	decided  bool
	deleteMe bool
}

func newPendingConnection(stream network.Stream) *PendingConnection {
	return &PendingConnection{stream: stream}
}

// update drains the socket and returns a parsed join request the first
// time one arrives. Frames other than REQJOIN are ignored.
func (pc *PendingConnection) update(now time.Time, logger zerolog.Logger) *protocol.JoinRequest {
	if pc.stream == nil || pc.deleteMe {
		return nil
	}
	pc.stream.DoRecv(now)

	if err := pc.stream.Err(); err != nil {
		logger.Debug().Err(err).Msg("pending connection error")
		pc.deleteMe = true
		return nil
	}
	if pc.stream.RemoteClosed() {
		pc.deleteMe = true
		return nil
	}
	if now.Sub(pc.stream.LastRecv()) > LobbyIdleTimeout {
		logger.Debug().Str("ip", pc.stream.RemoteIP().String()).Msg("pending connection timed out")
		pc.deleteMe = true
		return nil
	}

	for {
		frame, err := protocol.ExtractFrame(pc.stream.RecvBuffer())
		if err != nil {
			logger.Debug().Err(err).Str("ip", pc.stream.RemoteIP().String()).Msg("pending connection sent a bad frame")
			pc.deleteMe = true
			return nil
		}
		if frame == nil {
			return nil
		}
		if frame.Magic != protocol.MagicGame || frame.Type != protocol.ReqJoin || pc.decided {
			continue
		}
		req, err := protocol.ParseJoinRequest(frame.Payload())
		if err != nil {
			logger.Debug().Err(err).Msg("malformed join request")
			continue
		}
		pc.joinReq = req
		pc.decided = true
		return req
	}
}

// release hands the stream to its new owner. The pending connection no
// longer closes it when swept.
func (pc *PendingConnection) release() network.Stream {
	s := pc.stream
	pc.stream = nil
	pc.deleteMe = true
	return s
}

// reject sends a REJECTJOIN and marks the connection for removal.
func (pc *PendingConnection) reject(reason uint32) {
	if pc.stream != nil {
		pc.stream.Send(protocol.BuildRejectJoin(reason))
		pc.stream.DoSend()
	}
	pc.deleteMe = true
}

func (pc *PendingConnection) close() {
	if pc.stream != nil {
		pc.stream.Close()
		pc.stream = nil
	}
}
