package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type DatabaseConfig struct {
	Path string `json:"path"`
}

type RedisConfig struct {
	// Addr empty means no Redis; the server falls back to the
	// in-process cache.
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	Server struct {
		Port                  int      `json:"port"`
		AuthToken             string   `json:"auth_token"`
		AllowedOrigins        []string `json:"allowed_origins"`
		HeartbeatIntervalSec  int      `json:"heartbeat_interval_sec"`
		HeartbeatTimeoutCount int      `json:"heartbeat_timeout_count"`
	} `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateServerConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.Server.HeartbeatIntervalSec <= 0 {
		cfg.Server.HeartbeatIntervalSec = 30
	}
	if cfg.Server.HeartbeatTimeoutCount <= 0 {
		cfg.Server.HeartbeatTimeoutCount = 3
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("validation error: server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("validation error: database.path is required")
	}
	return nil
}
