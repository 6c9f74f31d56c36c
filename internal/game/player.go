package game

import (
	"net"
	"time"

	"github.com/energizer-project/relayhost/internal/network"
	"github.com/energizer-project/relayhost/internal/protocol"
)

// DisconnectCause classifies why a connection went away.
type DisconnectCause int

const (
	CauseNone DisconnectCause = iota
	CauseTimeout
	CausePlayerError
	CauseSocketError
	CauseClosedByRemote
)

func (c DisconnectCause) String() string {
	switch c {
	case CauseTimeout:
		return "timeout"
	case CausePlayerError:
		return "player-error"
	case CauseSocketError:
		return "socket-error"
	case CauseClosedByRemote:
		return "closed-by-remote"
	default:
		return "none"
	}
}

// bufferedFrame is a frame kept for replay after a reconnect.
type bufferedFrame struct {
	seq  uint32
	data []byte
}

// Player is a joined participant. Players are owned by exactly one session
// and referenced elsewhere only by PID.
type Player struct {
	PID        uint8
	Name       string
	ExternalIP net.IP
	InternalIP net.IP
	Realm      string
	Reserved   bool

	stream   network.Stream
	joinedAt time.Time

	spoofChecked bool
	muted        bool

	downloadQueued    bool
	downloadStarted   bool
	downloadFinished  bool
	downloadStartedAt time.Time
	lastMapPartSent   uint32
	lastMapPartAcked  uint32

	finishedLoading   bool
	finishedLoadingAt time.Time

	lagging          bool
	startedLaggingAt time.Time
	syncCounter      uint32
	checksums        []uint32
	ignoreKeepalives int
	dropVote         bool
	kickVote         bool

	pings []time.Duration

	deleteMe        bool
	leftReason      string
	leftCode        uint32
	leftMessageSent bool
	leftAt          time.Time

	// reconnect state
	gproxy         bool
	gproxyKey      uint32
	gproxyBuffer   []bufferedFrame
	totalSent      uint32
	totalReceived  uint32
	disconnected   bool
	disconnectedAt time.Time
	noticeSent     bool
	lastNotice     time.Time
	lastGProxyAck  time.Time
}

func newPlayer(pid uint8, req *protocol.JoinRequest, stream network.Stream, reserved bool, now time.Time) *Player {
	return &Player{
		PID:        pid,
		Name:       req.Name,
		ExternalIP: stream.RemoteIP(),
		InternalIP: req.InternalIP,
		Reserved:   reserved,
		stream:     stream,
		joinedAt:   now,
		leftCode:   protocol.LeaveLobby,
	}
}

// Send queues a frame. Game protocol frames sent to a reconnect-capable
// player are numbered and kept until the client acknowledges them, so they
// are buffered even while no connection is attached.
func (p *Player) Send(data []byte) {
	if p.gproxy && len(data) > 0 && data[0] == protocol.MagicGame {
		p.totalSent++
		p.gproxyBuffer = append(p.gproxyBuffer, bufferedFrame{seq: p.totalSent, data: data})
	}
	if p.stream != nil && !p.disconnected {
		p.stream.Send(data)
	}
}

// ack discards buffered frames the client confirmed.
func (p *Player) ack(lastPacket uint32) {
	i := 0
	for i < len(p.gproxyBuffer) && p.gproxyBuffer[i].seq <= lastPacket {
		i++
	}
	p.gproxyBuffer = p.gproxyBuffer[i:]
}

// Ping returns the mean of the recorded round trips.
func (p *Player) Ping() time.Duration {
	if len(p.pings) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range p.pings {
		sum += d
	}
	return sum / time.Duration(len(p.pings))
}

// NumPings is the number of pong replies recorded.
func (p *Player) NumPings() int { return len(p.pings) }

func (p *Player) addPing(d time.Duration) {
	p.pings = append(p.pings, d)
	if len(p.pings) > maxPingSamples {
		p.pings = p.pings[1:]
	}
}

// Stream returns the attached connection, nil while disconnected.
func (p *Player) Stream() network.Stream { return p.stream }

func (p *Player) GProxy() bool       { return p.gproxy }
func (p *Player) Disconnected() bool { return p.disconnected }
func (p *Player) Lagging() bool      { return p.lagging }
func (p *Player) Loaded() bool       { return p.finishedLoading }
func (p *Player) Muted() bool        { return p.muted }
func (p *Player) SpoofChecked() bool { return p.spoofChecked }

func (p *Player) flush() {
	if p.stream == nil || p.disconnected {
		return
	}
	p.stream.DoSend()
}

func (p *Player) detach() {
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
}
