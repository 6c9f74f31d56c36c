package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/energizer-project/relayhost/internal/events"
)

func lagEvent(t events.EventType, at time.Time, p events.LagPayload) events.Event {
	return events.Event{Type: t, Timestamp: at, Payload: p}
}

func TestLagMonitorEpisodes(t *testing.T) {
	lm := NewLagMonitor(nil)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	lm.handleLagStarted(ctx, lagEvent(events.EventLagStarted, t0, events.LagPayload{GameID: 3, Players: []string{"Bob"}}))
	lm.handleLagStopped(ctx, lagEvent(events.EventLagStopped, t0.Add(4*time.Second), events.LagPayload{GameID: 3, Duration: 4 * time.Second}))
	lm.handleLagStarted(ctx, lagEvent(events.EventLagStarted, t0.Add(time.Minute), events.LagPayload{GameID: 3, Players: []string{"Bob", "Carol"}}))
	lm.handleLagStopped(ctx, lagEvent(events.EventLagStopped, t0.Add(time.Minute+8*time.Second), events.LagPayload{GameID: 3, Duration: 8 * time.Second}))

	data, ok := lm.GameData(3)
	if !ok {
		t.Fatal("expected data for game 3")
	}
	if data.TotalEpisodes != 2 || data.EpisodesHour != 2 {
		t.Errorf("unexpected episode counts: %+v", data)
	}
	if data.MaxDuration != 8*time.Second || data.AvgDuration != 6*time.Second {
		t.Errorf("unexpected durations: max %s avg %s", data.MaxDuration, data.AvgDuration)
	}
	if data.PlayerEpisodes["Bob"] != 2 || data.PlayerEpisodes["Carol"] != 1 {
		t.Errorf("unexpected player episodes: %v", data.PlayerEpisodes)
	}
	if len(data.Lagging) != 0 {
		t.Errorf("expected no current laggers, got %v", data.Lagging)
	}

	// the copy is independent of the monitor's state
	data.PlayerEpisodes["Bob"] = 99
	again, _ := lm.GameData(3)
	if again.PlayerEpisodes["Bob"] != 2 {
		t.Error("GameData returned shared state")
	}
}

func TestLagMonitorThresholds(t *testing.T) {
	lm := NewLagMonitor(nil)
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < LagWarningThreshold; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		lm.handleLagStopped(ctx, lagEvent(events.EventLagStopped, at, events.LagPayload{GameID: 1, Duration: time.Second}))
	}
	lm.handleLagStopped(ctx, lagEvent(events.EventLagStopped, t0, events.LagPayload{GameID: 2, Duration: time.Second}))

	alerts := lm.CheckThresholds(t0.Add(15 * time.Minute))
	if len(alerts) != 1 || alerts[0].GameID != 1 || alerts[0].Level != "warning" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	lm.handleGameEnded(ctx, events.Event{Type: events.EventGameOver, Timestamp: t0.Add(20 * time.Minute), Payload: events.GamePayload{GameID: 1}})
	if alerts := lm.CheckThresholds(t0.Add(21 * time.Minute)); len(alerts) != 0 {
		t.Errorf("expected ended game to raise no alerts, got %+v", alerts)
	}
	lm.CheckThresholds(t0.Add(20*time.Minute + gameRetention + time.Second))
	if _, ok := lm.GameData(1); ok {
		t.Error("expected ended game to be forgotten after retention")
	}
	if _, ok := lm.GameData(2); !ok {
		t.Error("expected running game to be kept")
	}
}

func TestTopicFor(t *testing.T) {
	tests := map[events.EventType]string{
		events.EventGameCreated:       TopicGame,
		events.EventSaveCompleted:     TopicGame,
		events.EventPlayerDesync:      TopicPlayer,
		events.EventPlayerReconnected: TopicPlayer,
		events.EventLagStarted:        TopicLag,
	}
	for et, want := range tests {
		if got := topicFor(et); got != want {
			t.Errorf("topicFor(%s) = %s, want %s", et, got, want)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	h := &MQTTHandler{metadata: map[string]any{"hostname": "relay-1"}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msg := h.buildMessage(map[string]any{"event": "online"}, now)
	if msg["hostname"] != "relay-1" {
		t.Errorf("expected metadata in message, got %v", msg)
	}
	if msg["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected timestamp %v", msg["timestamp"])
	}
	if _, ok := msg["payload"]; !ok {
		t.Error("expected payload key")
	}
}
