// Package network provides the buffered, non-blocking socket abstraction
// the host reactor drives, plus the listeners that feed it.
package network

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// writeSlice bounds how long a single flush may wait on the kernel.
	writeSlice = 2 * time.Millisecond
	// MaxSendQueue is the queued byte count above which a warning is logged.
	MaxSendQueue = 4 << 20
	readChunk    = 8192
)

// ErrClosed is returned for operations on a locally closed socket.
var ErrClosed = errors.New("socket closed")

// Stream is the connection contract the game engine is written against.
// All methods except the background reader are called from the reactor.
type Stream interface {
	// DoRecv moves bytes that arrived since the last call into the receive
	// buffer and stamps the activity time if anything arrived.
	DoRecv(now time.Time)
	// RecvBuffer exposes the accumulated bytes for frame extraction.
	RecvBuffer() *[]byte
	// Send queues data for the next DoSend.
	Send(data []byte)
	// DoSend writes as much queued data as the kernel accepts and keeps the
	// rest queued.
	DoSend() (int, error)
	// Err is the first error seen; it never clears.
	Err() error
	// RemoteClosed reports a graceful close by the peer.
	RemoteClosed() bool
	LastRecv() time.Time
	RemoteIP() net.IP
	Close() error
}

// Socket implements Stream over a net.Conn. A background goroutine reads
// into a staging buffer and signals the shared wake channel; everything
// else runs on the reactor.
type Socket struct {
	conn     net.Conn
	wake     chan<- struct{}
	remoteIP net.IP
	logger   zerolog.Logger

	mu      sync.Mutex
	staged  []byte
	eof     bool
	readErr error
	closed  bool

	buf          []byte
	out          []byte
	err          error
	remoteClosed bool
	lastRecv     time.Time
	connectedAt  time.Time
	warnedQueue  bool
}

// NewSocket wraps conn and starts its reader. wake may be nil.
func NewSocket(conn net.Conn, wake chan<- struct{}) *Socket {
	now := time.Now()
	s := &Socket{
		conn:        conn,
		wake:        wake,
		remoteIP:    addrIP(conn.RemoteAddr()),
		lastRecv:    now,
		connectedAt: now,
		logger:      log.With().Str("component", "socket").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	go s.readLoop()
	return s
}

func (s *Socket) readLoop() {
	chunk := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.staged = append(s.staged, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
			} else if !s.closed {
				s.readErr = err
			}
		}
		s.mu.Unlock()
		Signal(s.wake)
		if err != nil {
			return
		}
	}
}

// Signal performs a non-blocking send on a wake channel.
func Signal(wake chan<- struct{}) {
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (s *Socket) DoRecv(now time.Time) {
	s.mu.Lock()
	data := s.staged
	s.staged = nil
	eof, readErr := s.eof, s.readErr
	s.mu.Unlock()

	if len(data) > 0 {
		s.buf = append(s.buf, data...)
		s.lastRecv = now
	}
	if eof {
		s.remoteClosed = true
	}
	if readErr != nil {
		s.setErr(readErr)
	}
}

func (s *Socket) RecvBuffer() *[]byte { return &s.buf }

func (s *Socket) Send(data []byte) {
	if s.err != nil {
		return
	}
	s.out = append(s.out, data...)
	if len(s.out) > MaxSendQueue && !s.warnedQueue {
		s.warnedQueue = true
		s.logger.Warn().Str("queued", humanize.Bytes(uint64(len(s.out)))).Msg("send queue growing, peer is not reading")
	}
}

func (s *Socket) DoSend() (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(s.out) == 0 {
		return 0, nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeSlice))
	n, err := s.conn.Write(s.out)
	s.out = append(s.out[:0], s.out[n:]...)
	if len(s.out) < MaxSendQueue/2 {
		s.warnedQueue = false
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		s.setErr(err)
		return n, err
	}
	return n, nil
}

// Queued returns the number of bytes waiting to be written.
func (s *Socket) Queued() int { return len(s.out) }

func (s *Socket) setErr(err error) {
	if s.err == nil {
		s.err = err
		s.logger.Debug().Err(err).Msg("socket error")
	}
}

func (s *Socket) Err() error          { return s.err }
func (s *Socket) RemoteClosed() bool  { return s.remoteClosed }
func (s *Socket) LastRecv() time.Time { return s.lastRecv }
func (s *Socket) RemoteIP() net.IP    { return s.remoteIP }

// ConnectedAt returns when the socket was wrapped.
func (s *Socket) ConnectedAt() time.Time { return s.connectedAt }

// Close closes the connection. Queued data is discarded.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.out = nil
	if s.err == nil {
		s.err = ErrClosed
	}
	return s.conn.Close()
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
