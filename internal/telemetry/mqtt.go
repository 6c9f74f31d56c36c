// Package telemetry publishes session events to an MQTT broker and keeps
// per-game lag statistics.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/relayhost/internal/config"
	"github.com/energizer-project/relayhost/internal/events"
	"github.com/energizer-project/relayhost/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicHostStatus = "host/status"
	TopicGame       = "game/lifecycle"
	TopicPlayer     = "game/player"
	TopicLag        = "game/lag"
)

// MQTTHandler forwards session events from the bus to the broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// included in every message
	metadata map[string]any
}

// NewMQTTHandler configures the client. Start connects it.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]any{
			"hostname":  sysInfo.Hostname,
			"os":        sysInfo.OS,
			"cpu_model": sysInfo.CPUModel,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("relayhost-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", h.cfg.BrokerURL).Int("port", h.cfg.Port).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	for _, t := range events.AllTypes {
		h.eventBus.Subscribe(t, "mqtt."+string(t), h.onEvent)
	}
	h.publish(TopicHostStatus, map[string]any{"event": "online"})

	<-ctx.Done()

	h.publish(TopicHostStatus, map[string]any{"event": "shutdown"})
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	h.publish(topicFor(event.Type), map[string]any{
		"event":   event.Type,
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// topicFor groups event types into topics.
func topicFor(t events.EventType) string {
	switch t {
	case events.EventPlayerJoined, events.EventPlayerLeft, events.EventPlayerDesync, events.EventPlayerReconnected:
		return TopicPlayer
	case events.EventLagStarted, events.EventLagStopped:
		return TopicLag
	default:
		return TopicGame
	}
}

func (h *MQTTHandler) publish(topic string, payload any) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload, time.Now()))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	full := h.cfg.Topic + "/" + topic
	token := h.client.Publish(full, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", full).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload any, now time.Time) map[string]any {
	msg := make(map[string]any, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = now.UTC().Format(time.RFC3339)
	return msg
}
