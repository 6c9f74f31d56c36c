package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/events"
)

// Thresholds of lag episodes per hour.
const (
	LagWarningThreshold  = 10
	LagCriticalThreshold = 30

	maxLagHistory = 1000
	// finished games are forgotten after this long
	gameRetention = 6 * time.Hour
)

// LagMonitor aggregates lag episodes per game for the API and raises
// threshold alerts in the log.
type LagMonitor struct {
	mu     sync.RWMutex
	games  map[uint32]*GameLagData
	logger zerolog.Logger

	warningThreshold  int
	criticalThreshold int
}

// GameLagData holds lag tracking data for one game.
type GameLagData struct {
	GameID         uint32         `json:"game_id"`
	TotalEpisodes  int            `json:"total_episodes"`
	EpisodesHour   int            `json:"episodes_this_hour"`
	Lagging        []string       `json:"lagging,omitempty"`
	LastEpisode    time.Time      `json:"last_episode"`
	MaxDuration    time.Duration  `json:"max_duration_ns"`
	AvgDuration    time.Duration  `json:"avg_duration_ns"`
	History        []LagEpisode   `json:"history"`
	PlayerEpisodes map[string]int `json:"player_episodes"`
	EndedAt        time.Time      `json:"ended_at,omitempty"`
}

// LagEpisode is one completed lag screen.
type LagEpisode struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns"`
	Players   []string      `json:"players"`
}

// LagAlert is raised when a game crosses a threshold.
type LagAlert struct {
	GameID  uint32 `json:"game_id"`
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewLagMonitor creates a monitor subscribed to eventBus.
func NewLagMonitor(eventBus *events.EventBus) *LagMonitor {
	lm := &LagMonitor{
		games:             make(map[uint32]*GameLagData),
		logger:            log.With().Str("component", "lag_monitor").Logger(),
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
	if eventBus != nil {
		eventBus.Subscribe(events.EventLagStarted, "lag_monitor.started", lm.handleLagStarted)
		eventBus.Subscribe(events.EventLagStopped, "lag_monitor.stopped", lm.handleLagStopped)
		eventBus.Subscribe(events.EventGameOver, "lag_monitor.over", lm.handleGameEnded)
	}
	return lm
}

func (lm *LagMonitor) game(id uint32) *GameLagData {
	data, ok := lm.games[id]
	if !ok {
		data = &GameLagData{
			GameID:         id,
			History:        make([]LagEpisode, 0, 16),
			PlayerEpisodes: make(map[string]int),
		}
		lm.games[id] = data
	}
	return data
}

func (lm *LagMonitor) handleLagStarted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LagPayload)
	if !ok {
		return nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.game(payload.GameID).Lagging = append([]string(nil), payload.Players...)
	return nil
}

func (lm *LagMonitor) handleLagStopped(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LagPayload)
	if !ok {
		return nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	data := lm.game(payload.GameID)
	now := event.Timestamp
	players := data.Lagging
	data.Lagging = nil

	data.TotalEpisodes++
	data.LastEpisode = now
	data.History = append(data.History, LagEpisode{Timestamp: now, Duration: payload.Duration, Players: players})
	if len(data.History) > maxLagHistory {
		data.History = data.History[len(data.History)-maxLagHistory:]
	}
	for _, name := range players {
		data.PlayerEpisodes[name]++
	}

	data.MaxDuration = max(data.MaxDuration, payload.Duration)
	var total time.Duration
	hourAgo := now.Add(-time.Hour)
	data.EpisodesHour = 0
	for _, e := range data.History {
		total += e.Duration
		if e.Timestamp.After(hourAgo) {
			data.EpisodesHour++
		}
	}
	data.AvgDuration = total / time.Duration(len(data.History))
	return nil
}

func (lm *LagMonitor) handleGameEnded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.GamePayload)
	if !ok {
		return nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if data, ok := lm.games[payload.GameID]; ok {
		data.EndedAt = event.Timestamp
		data.Lagging = nil
	}
	return nil
}

func (d *GameLagData) clone() *GameLagData {
	c := *d
	c.Lagging = append([]string(nil), d.Lagging...)
	c.History = append([]LagEpisode(nil), d.History...)
	c.PlayerEpisodes = make(map[string]int, len(d.PlayerEpisodes))
	for k, v := range d.PlayerEpisodes {
		c.PlayerEpisodes[k] = v
	}
	return &c
}

// GameData returns a copy of the lag data of one game.
func (lm *LagMonitor) GameData(id uint32) (*GameLagData, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	data, ok := lm.games[id]
	if !ok {
		return nil, false
	}
	return data.clone(), true
}

// AllGameData returns copies of the lag data of every tracked game.
func (lm *LagMonitor) AllGameData() map[uint32]*GameLagData {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	result := make(map[uint32]*GameLagData, len(lm.games))
	for id, d := range lm.games {
		result[id] = d.clone()
	}
	return result
}

// CheckThresholds evaluates every running game against the thresholds and
// forgets games that ended long ago.
func (lm *LagMonitor) CheckThresholds(now time.Time) []LagAlert {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var alerts []LagAlert
	for id, data := range lm.games {
		if !data.EndedAt.IsZero() {
			if now.Sub(data.EndedAt) > gameRetention {
				delete(lm.games, id)
			}
			continue
		}

		level := ""
		switch {
		case data.EpisodesHour >= lm.criticalThreshold:
			level = "critical"
		case data.EpisodesHour >= lm.warningThreshold:
			level = "warning"
		default:
			continue
		}
		alerts = append(alerts, LagAlert{
			GameID:  id,
			Level:   level,
			Events:  data.EpisodesHour,
			Message: fmt.Sprintf("Game %d: %d lag episodes in the last hour", id, data.EpisodesHour),
		})
	}
	return alerts
}

// Start runs periodic threshold checks until ctx ends.
func (lm *LagMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, alert := range lm.CheckThresholds(now) {
				ev := lm.logger.Warn()
				if alert.Level == "critical" {
					ev = lm.logger.Error()
				}
				ev.Uint32("game_id", alert.GameID).
					Str("level", alert.Level).
					Int("events", alert.Events).
					Msg("lag threshold alert")
			}
		}
	}
}
