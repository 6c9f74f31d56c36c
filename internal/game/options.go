package game

import (
	"net"
	"strings"
	"time"
)

// Timing constants of the session state machine.
const (
	PingInterval           = 5 * time.Second
	RefreshInterval        = 5 * time.Second
	DownloadInterval       = time.Second
	CountdownInterval      = 500 * time.Millisecond
	CountdownTicks         = 5
	LobbyIdleTimeout       = 30 * time.Second
	LoadingKeepalive       = 30 * time.Second
	LagScreenRefresh       = 60 * time.Second
	GameOverDelay          = 60 * time.Second
	VoteKickExpiry         = 60 * time.Second
	DropVoteDelay          = 5 * time.Second
	GProxyAckInterval      = 10 * time.Second
	GProxyNoticeInterval   = 20 * time.Second
	ReconnectWindowPerStep = 60 * time.Second
	MinPingsToStart        = 3
	MapPartWindow          = 100
	maxPingSamples         = 20
	maxNameLength          = 15
	maxPID                 = 254
)

const (
	minLatency   = 20
	maxLatency   = 250
	minSyncLimit = 50
	maxSyncLimit = 100
)

// Config holds the operator settings a session runs with.
type Config struct {
	VirtualHostName    string
	LatencyMS          int
	SyncLimit          int
	GraceActions       uint8
	AutoKickPingMS     int
	LobbyTimeLimit     time.Duration
	VoteKickPercentage int
	MaxDownloaders     int
	DownloadRate       int // bytes per second, 0 = unlimited
	AllowDownloads     bool
	CommandTrigger     byte
	ReservedNames      []string
	HCLCommand         string
	GProxy             bool
	ReconnectPort      uint16
	ExternalIP         net.IP
	Version            uint32
}

// ClampLatency bounds a latency setting in milliseconds.
func ClampLatency(ms int) int {
	return max(minLatency, min(maxLatency, ms))
}

// ClampSyncLimit bounds a sync limit setting.
func ClampSyncLimit(n int) int {
	return max(minSyncLimit, min(maxSyncLimit, n))
}

func (c Config) normalized() Config {
	c.LatencyMS = ClampLatency(c.LatencyMS)
	c.SyncLimit = ClampSyncLimit(c.SyncLimit)
	if c.VirtualHostName == "" {
		c.VirtualHostName = "|cFF4080C0Relay"
	}
	if c.CommandTrigger == 0 {
		c.CommandTrigger = '!'
	}
	if c.VoteKickPercentage <= 0 || c.VoteKickPercentage > 100 {
		c.VoteKickPercentage = 100
	}
	return c
}

// reconnectWindow is how long a disconnected reconnect-capable player is
// kept in the game.
func (c Config) reconnectWindow() time.Duration {
	return time.Duration(int(c.GraceActions)+1) * ReconnectWindowPerStep
}

func (c Config) reservedName(name string) bool {
	for _, r := range c.ReservedNames {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}
