package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateHost(&cfg.Host, result)
	validateLobby(&cfg.Lobby, result)
	validateStorage(&cfg.Storage, result)
	validateServices(cfg, result)

	return result
}

func validateHost(h *HostConfig, result *ValidationResult) {
	if ip := net.ParseIP(h.BindAddress); h.BindAddress != "" && ip == nil {
		result.AddError("host.bind_address", fmt.Sprintf("not an IP address: %s", h.BindAddress))
	}
	if h.ExternalIP != "" {
		if ip := net.ParseIP(h.ExternalIP); ip == nil || ip.To4() == nil {
			result.AddError("host.external_ip", fmt.Sprintf("not an IPv4 address: %s", h.ExternalIP))
		}
	}

	validatePort(h.GamePort, "host.game_port", result)
	validatePort(h.ReconnectPort, "host.reconnect_port", result)
	if h.LANEnabled {
		validatePort(h.LANPort, "host.lan_port", result)
	}
	if h.GamePort == h.ReconnectPort {
		result.AddError("host.ports", "port conflict detected: game and reconnect ports must differ")
	}

	name := strings.TrimSpace(h.VirtualHostName)
	if name == "" {
		result.AddError("host.virtual_host_name", "virtual host name is required")
	} else if len(name) > 15 && !strings.HasPrefix(name, "|c") {
		result.AddWarning("host.virtual_host_name", "names longer than 15 characters are truncated by clients")
	}
	if len(h.CommandTrigger) != 1 {
		result.AddError("host.command_trigger", "command trigger must be a single character")
	}
	if h.MaxGames < 1 {
		result.AddError("host.max_games", "must allow at least 1 game")
	}
	if strings.TrimSpace(h.MapsDirectory) == "" {
		result.AddError("host.maps_directory", "maps directory is required")
	}
}

func validateLobby(l *LobbyConfig, result *ValidationResult) {
	if l.VoteKickPercentage < 1 || l.VoteKickPercentage > 100 {
		result.AddError("lobby.vote_kick_percentage", "must be between 1 and 100")
	}
	if l.AllowDownloads && l.MaxDownloaders < 1 {
		result.AddError("lobby.max_downloaders", "must allow at least 1 downloader when downloads are enabled")
	}
	if l.DownloadKBPerSecond == 0 && l.AllowDownloads {
		result.AddWarning("lobby.download_kb_per_second", "map downloads are not rate limited")
	}
	if l.AcceptPerSecond <= 0 {
		result.AddWarning("lobby.accept_per_second", "per-IP accept limiting is disabled")
	}
	if l.TimeLimitMinutes == 0 {
		result.AddWarning("lobby.time_limit_minutes", "idle lobbies are never closed")
	}
}

func validateStorage(s *StorageConfig, result *ValidationResult) {
	if strings.TrimSpace(s.DatabasePath) == "" {
		result.AddError("storage.database_path", "database path is required")
	}
	if s.RetentionDays < 0 {
		result.AddError("storage.retention_days", "retention days cannot be negative")
	}
	if _, err := time.Parse("15:04", s.PruneTime); err != nil {
		result.AddError("storage.prune_time", fmt.Sprintf("expected HH:MM, got %q", s.PruneTime))
	}
	if s.SaveWorkers < 1 {
		result.AddError("storage.save_workers", "must have at least 1 save worker")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Host.GamePort || cfg.API.Port == cfg.Host.ReconnectPort {
			result.AddError("api.port", "port conflict detected: API port collides with a game port")
		}
		if strings.TrimSpace(cfg.API.Token) == "" {
			result.AddWarning("api.token", "API token is empty, control endpoints are unauthenticated")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		result.AddWarning("logging.level", fmt.Sprintf("unknown level %q, using info", cfg.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
