package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const acceptBacklog = 64

// Listener accepts TCP connections on a background goroutine and hands them
// to the reactor through a non-blocking Accept.
type Listener struct {
	ln      net.Listener
	wake    chan<- struct{}
	limiter *AcceptLimiter
	pending chan net.Conn
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Listen binds addr with SO_REUSEADDR and starts accepting. limiter may be nil.
func Listen(ctx context.Context, addr string, wake chan<- struct{}, limiter *AcceptLimiter) (*Listener, error) {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		ln:      ln,
		wake:    wake,
		limiter: limiter,
		pending: make(chan net.Conn, acceptBacklog),
		logger:  log.With().Str("component", "listener").Str("addr", ln.Addr().String()).Logger(),
	}
	go l.acceptLoop()

	l.logger.Info().Msg("listener started")
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.logger.Debug().Err(err).Msg("listener stopping")
			return
		}

		ip := addrIP(conn.RemoteAddr()).String()
		if l.limiter != nil && !l.limiter.Allow(ip) {
			l.logger.Warn().Str("src", ip).Msg("accept rate limit exceeded, dropping connection")
			conn.Close()
			continue
		}

		if !l.handOff(conn, ip) {
			conn.Close()
			return
		}
	}
}

// handOff queues conn for Accept. It reports false once the listener is
// closed, in which case the caller owns conn.
func (l *Listener) handOff(conn net.Conn, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.pending <- conn:
		Signal(l.wake)
	default:
		l.logger.Warn().Str("src", ip).Msg("accept backlog full, dropping connection")
		conn.Close()
	}
	return true
}

// Accept returns the next accepted connection wrapped as a Socket, or false
// when none is waiting.
func (l *Listener) Accept() (Stream, bool) {
	select {
	case conn := <-l.pending:
		return NewSocket(conn, l.wake), true
	default:
		return nil, false
	}
}

// Port returns the bound TCP port.
func (l *Listener) Port() uint16 {
	_, p, err := net.SplitHostPort(l.ln.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return uint16(n)
}

// Close stops accepting and closes connections not yet handed out.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := l.ln.Close()
	for {
		select {
		case conn := <-l.pending:
			conn.Close()
		default:
			l.logger.Info().Msg("listener closed")
			return err
		}
	}
}

// AcceptLimiter throttles new connections per source address.
type AcceptLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewAcceptLimiter allows perSecond connections per address with the given burst.
func NewAcceptLimiter(perSecond float64, burst int) *AcceptLimiter {
	return &AcceptLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow consumes one token for ip.
func (a *AcceptLimiter) Allow(ip string) bool {
	return a.AllowAt(ip, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (a *AcceptLimiter) AllowAt(ip string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.limiters[ip]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(a.limit, a.burst)}
		a.limiters[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// Prune forgets addresses idle for longer than idle and returns how many
// were removed.
func (a *AcceptLimiter) Prune(now time.Time, idle time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for ip, e := range a.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(a.limiters, ip)
			n++
		}
	}
	return n
}
