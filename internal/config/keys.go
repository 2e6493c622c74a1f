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
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FACET_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "reasoning.base_url", typ: kString, env: "FACET_REASONING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.BaseURL },
	},
	{
		key: "reasoning.model", typ: kString, env: "FACET_REASONING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.Model },
	},
	{
		key: "reasoning.dispatch_timeout", typ: kString, env: "FACET_REASONING_DISPATCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reasoning.DispatchTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reasoning.DispatchTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FACET_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "rules.allow_overnight_windows", typ: kBool, env: "FACET_RULES_ALLOW_OVERNIGHT_WINDOWS",
		apply:   func(cfg *Config, v any) { cfg.Rules.AllowOvernightWindows = v.(bool) },
		extract: func(cfg Config) any { return cfg.Rules.AllowOvernightWindows },
	},
	{
		key: "log.level", typ: kString, env: "FACET_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
