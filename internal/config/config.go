package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Storage StorageConfig
	Sync    SyncConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

// GatewayConfig describes the upstream OpenClaw gateway. Token may be empty:
// the relay reports a missing token per request instead of refusing to start.
type GatewayConfig struct {
	BaseURL              string
	Token                string
	AgentID              string
	SessionKey           string
	CFAccessClientID     string
	CFAccessClientSecret string
}

type StorageConfig struct {
	DataDir string
}

type SyncConfig struct {
	Interval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://127.0.0.1:18789",
			AgentID:    "main",
			SessionKey: "agent:main:main",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file backend and environment
// variables. Environment variables override file values; secrets are only
// read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("server.port must be a valid TCP port, got %d", cfg.Server.Port)
	}
	if cfg.Gateway.BaseURL == "" {
		return Config{}, fmt.Errorf("gateway.base_url must not be empty")
	}
	if _, err := cfg.SyncInterval(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// SyncInterval parses Sync.Interval. An empty value disables background sync.
func (c Config) SyncInterval() (time.Duration, error) {
	if c.Sync.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid sync.interval %q: %w", c.Sync.Interval, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("sync.interval must not be negative, got %s", d)
	}
	return d, nil
}
