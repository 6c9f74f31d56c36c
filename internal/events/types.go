// Package events defines the session lifecycle events and the bus that
// carries them from the reactor to telemetry and other observers.
package events

import "time"

// EventType names an event.
type EventType string

const (
	EventGameCreated       EventType = "game_created"
	EventGameClosed        EventType = "game_closed"
	EventGameStarted       EventType = "game_started"
	EventGameLoaded        EventType = "game_loaded"
	EventGameOver          EventType = "game_over"
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerLeft        EventType = "player_left"
	EventPlayerDesync      EventType = "player_desync"
	EventPlayerReconnected EventType = "player_reconnected"
	EventLagStarted        EventType = "lag_started"
	EventLagStopped        EventType = "lag_stopped"
	EventSaveCompleted     EventType = "save_completed"
)

// AllTypes lists every event type, in a stable order.
var AllTypes = []EventType{
	EventGameCreated, EventGameClosed, EventGameStarted, EventGameLoaded, EventGameOver,
	EventPlayerJoined, EventPlayerLeft, EventPlayerDesync, EventPlayerReconnected,
	EventLagStarted, EventLagStopped, EventSaveCompleted,
}

// Event is one published occurrence.
type Event struct {
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// GamePayload accompanies game lifecycle events.
type GamePayload struct {
	GameID  uint32 `json:"game_id"`
	Name    string `json:"name"`
	Map     string `json:"map"`
	Players int    `json:"players"`
	Reason  string `json:"reason,omitempty"`
}

// PlayerPayload accompanies player events.
type PlayerPayload struct {
	GameID uint32 `json:"game_id"`
	PID    uint8  `json:"pid"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// LagPayload accompanies lag events.
type LagPayload struct {
	GameID   uint32        `json:"game_id"`
	Players  []string      `json:"players"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}
