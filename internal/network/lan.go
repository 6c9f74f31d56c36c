package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/protocol"
)

// advertQueueSize bounds pending broadcasts. When full the oldest queued
// refresh is dropped.
const advertQueueSize = 32

type outbound struct {
	data   []byte
	result chan error
}

// LANAdvertiser broadcasts lobby advertisements on the local network and
// answers SEARCHGAME probes with every lobby it currently advertises.
type LANAdvertiser struct {
	conn    net.PacketConn
	target  net.Addr
	version uint32
	logger  zerolog.Logger

	mu      sync.Mutex
	adverts map[uint32]protocol.GameAdvert
	queue   []outbound
	notify  chan struct{}
	dropped int
}

// ListenLAN binds the UDP port used for LAN discovery and returns an
// advertiser broadcasting to the limited broadcast address on that port.
func ListenLAN(ctx context.Context, port int, version uint32) (*LANAdvertiser, error) {
	lc := BroadcastListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start LAN advertiser on port %d: %w", port, err)
	}
	return NewLANAdvertiser(pc, &net.UDPAddr{IP: net.IPv4bcast, Port: port}, version), nil
}

// NewLANAdvertiser uses conn for all traffic and sends broadcasts to target.
func NewLANAdvertiser(conn net.PacketConn, target net.Addr, version uint32) *LANAdvertiser {
	return &LANAdvertiser{
		conn:    conn,
		target:  target,
		version: version,
		adverts: make(map[uint32]protocol.GameAdvert),
		notify:  make(chan struct{}, 1),
		logger:  log.With().Str("component", "lan").Logger(),
	}
}

// Start runs the probe responder and the broadcast writer until ctx ends.
func (a *LANAdvertiser) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.conn.Close()
	}()
	go a.writeLoop(ctx)

	a.logger.Info().Str("addr", a.conn.LocalAddr().String()).Msg("LAN advertiser started")

	buf := make([]byte, 2048)
	for {
		n, remote, err := a.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				a.logger.Info().Msg("LAN advertiser stopping")
				return nil
			default:
				a.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
		}
		a.handleProbe(buf[:n], remote)
	}
}

func (a *LANAdvertiser) handleProbe(data []byte, remote net.Addr) {
	frame, err := protocol.ExtractFrame(&data)
	if err != nil || frame == nil || frame.Magic != protocol.MagicGame || frame.Type != protocol.SearchGame {
		return
	}
	_, version, err := protocol.ParseSearchGame(frame.Payload())
	if err != nil || version != a.version {
		return
	}

	a.mu.Lock()
	replies := make([][]byte, 0, len(a.adverts))
	for _, ad := range a.adverts {
		replies = append(replies, protocol.BuildGameInfo(ad))
	}
	a.mu.Unlock()

	for _, r := range replies {
		if _, err := a.conn.WriteTo(r, remote); err != nil {
			a.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to answer search")
		}
	}
	a.logger.Trace().Str("remote", remote.String()).Int("games", len(replies)).Msg("answered LAN search")
}

// Refresh records ad as the current advertisement for its host counter and
// queues a GAMEINFO broadcast. The returned channel yields the write result.
func (a *LANAdvertiser) Refresh(ad protocol.GameAdvert) <-chan error {
	a.mu.Lock()
	a.adverts[ad.HostCounter] = ad
	a.mu.Unlock()
	return a.enqueue(protocol.BuildGameInfo(ad))
}

// Withdraw stops advertising hostCounter and broadcasts DECREATEGAME.
func (a *LANAdvertiser) Withdraw(hostCounter uint32) {
	a.mu.Lock()
	_, ok := a.adverts[hostCounter]
	delete(a.adverts, hostCounter)
	a.mu.Unlock()
	if ok {
		a.enqueue(protocol.BuildDecreateGame(hostCounter))
	}
}

func (a *LANAdvertiser) enqueue(data []byte) <-chan error {
	res := make(chan error, 1)
	a.mu.Lock()
	if len(a.queue) >= advertQueueSize {
		oldest := a.queue[0]
		a.queue = a.queue[1:]
		a.dropped++
		oldest.result <- nil
		a.logger.Warn().Int("dropped_total", a.dropped).Msg("advertisement queue full, dropped oldest")
	}
	a.queue = append(a.queue, outbound{data: data, result: res})
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return res
}

func (a *LANAdvertiser) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.notify:
		}
		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			o := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()

			_, err := a.conn.WriteTo(o.data, a.target)
			if err != nil {
				a.logger.Warn().Err(err).Msg("failed to broadcast advertisement")
			}
			o.result <- err
		}
	}
}

// Pending returns the number of queued broadcasts.
func (a *LANAdvertiser) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
