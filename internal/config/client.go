package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type ClientConfig struct {
	URL           string `json:"url"`
	AuthToken     string `json:"auth_token"`
	HeartbeatMs   int    `json:"heartbeat_ms"`
	MaxBackoffMs  int    `json:"max_backoff_ms"`
	AutoReconnect *bool  `json:"auto_reconnect"`
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateClientConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateClientConfig(cfg *ClientConfig) error {
	if cfg.HeartbeatMs <= 0 {
		cfg.HeartbeatMs = 15000
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = 10000
	}
	if cfg.AutoReconnect == nil {
		enabled := true
		cfg.AutoReconnect = &enabled
	}

	if cfg.URL == "" {
		return fmt.Errorf("validation error: url is required")
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return fmt.Errorf("validation error: url must be a ws:// or wss:// address, got %q", cfg.URL)
	}
	return nil
}
