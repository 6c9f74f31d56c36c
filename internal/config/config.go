// Package config handles configuration loading, validation and persistence
// for the relay host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir     = "config"
	DefaultConfigFile    = "config.json"
	DefaultGamePort      = 6112
	DefaultReconnectPort = 6114
	DefaultLANPort       = 6112
	DefaultAPIPort       = 5080
	DefaultVersion       = 26
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Host    HostConfig    `json:"host"`
	Relay   RelayConfig   `json:"relay"`
	Lobby   LobbyConfig   `json:"lobby"`
	Storage StorageConfig `json:"storage"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
}

// HostConfig holds listener and identity settings.
type HostConfig struct {
	BindAddress     string   `json:"bind_address"`
	GamePort        int      `json:"game_port"`
	ReconnectPort   int      `json:"reconnect_port"`
	LANPort         int      `json:"lan_port"`
	LANEnabled      bool     `json:"lan_enabled"`
	ExternalIP      string   `json:"external_ip"`
	GameVersion     int      `json:"game_version"`
	VirtualHostName string   `json:"virtual_host_name"`
	DefaultMap      string   `json:"default_map"`
	MapsDirectory   string   `json:"maps_directory"`
	CommandTrigger  string   `json:"command_trigger"`
	ReservedNames   []string `json:"reserved_names"`
	DefaultHCL      string   `json:"default_hcl"`
	MaxGames        int      `json:"max_games"`
}

// RelayConfig holds action relay settings.
type RelayConfig struct {
	LatencyMS    int  `json:"latency_ms"`
	SyncLimit    int  `json:"sync_limit"`
	GProxy       bool `json:"gproxy_enabled"`
	GraceActions int  `json:"gproxy_empty_actions"`
}

// LobbyConfig holds lobby policy settings.
type LobbyConfig struct {
	AutoKickPingMS      int     `json:"auto_kick_ping_ms"`
	TimeLimitMinutes    int     `json:"time_limit_minutes"`
	VoteKickPercentage  int     `json:"vote_kick_percentage"`
	AllowDownloads      bool    `json:"allow_downloads"`
	MaxDownloaders      int     `json:"max_downloaders"`
	DownloadKBPerSecond int     `json:"download_kb_per_second"`
	AcceptPerSecond     float64 `json:"accept_per_second"`
	AcceptBurst         int     `json:"accept_burst"`
}

// StorageConfig holds game history settings.
type StorageConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	PruneTime     string `json:"prune_time"`
	SaveWorkers   int    `json:"save_workers"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			BindAddress:     "0.0.0.0",
			GamePort:        DefaultGamePort,
			ReconnectPort:   DefaultReconnectPort,
			LANPort:         DefaultLANPort,
			LANEnabled:      true,
			GameVersion:     DefaultVersion,
			VirtualHostName: "|cFF4080C0Relay",
			MapsDirectory:   "maps",
			CommandTrigger:  "!",
			MaxGames:        5,
		},
		Relay: RelayConfig{
			LatencyMS:    100,
			SyncLimit:    50,
			GProxy:       true,
			GraceActions: 3,
		},
		Lobby: LobbyConfig{
			TimeLimitMinutes:    10,
			VoteKickPercentage:  66,
			AllowDownloads:      true,
			MaxDownloaders:      3,
			DownloadKBPerSecond: 1024,
			AcceptPerSecond:     2,
			AcceptBurst:         5,
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join("data", "relayhost.db"),
			RetentionDays: 90,
			PruneTime:     "04:00",
			SaveWorkers:   2,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Port:  1883,
			Topic: "relayhost",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.Relay.Clamp()

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file lists every option the binary knows about.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRelay returns a copy of the relay settings.
func (c *Config) GetRelay() RelayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Relay
}

// SetRelay replaces the relay settings. Values are clamped.
func (c *Config) SetRelay(r RelayConfig) {
	r.Clamp()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay = r
}

// GetLobby returns a copy of the lobby settings.
func (c *Config) GetLobby() LobbyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lobby
}

// SetLobby replaces the lobby settings.
func (c *Config) SetLobby(l LobbyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lobby = l
}

// GetHost returns a copy of the host settings.
func (c *Config) GetHost() HostConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.Host
	h.ReservedNames = append([]string(nil), c.Host.ReservedNames...)
	return h
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Clamp bounds latency to [20,250] ms, the sync limit to [50,100] and the
// grace actions to [0,10].
func (r *RelayConfig) Clamp() {
	r.LatencyMS = max(20, min(250, r.LatencyMS))
	r.SyncLimit = max(50, min(100, r.SyncLimit))
	r.GraceActions = max(0, min(10, r.GraceActions))
}
