package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RELAY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gateway.base_url", typ: kString, env: "OPENCLAW_GATEWAY_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.token", typ: kString, env: "OPENCLAW_GATEWAY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Token },
	},
	{
		key: "gateway.agent_id", typ: kString, env: "OPENCLAW_AGENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Gateway.AgentID = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.AgentID },
	},
	{
		key: "gateway.session_key", typ: kString, env: "OPENCLAW_SESSION_KEY",
		apply:   func(cfg *Config, v any) { cfg.Gateway.SessionKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.SessionKey },
	},
	{
		key: "gateway.cf_access_client_id", typ: kString, env: "CF_ACCESS_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Gateway.CFAccessClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.CFAccessClientID },
	},
	{
		key: "gateway.cf_access_client_secret", typ: kString, env: "CF_ACCESS_CLIENT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.CFAccessClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.CFAccessClientSecret },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RELAY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "sync.interval", typ: kString, env: "RELAY_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "log.level", typ: kString, env: "RELAY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
