package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix every recognized environment override
// carries.
const EnvPrefix = "FMTFLOW_"

// Load builds a Config: defaults, then the TOML file at path (when
// path is non-empty; a named file that is missing is an error), then
// environment overrides. Validation is left to the caller so flags can
// be applied first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays FMTFLOW_* variables. lookup is injectable for
// tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		return nil
	}
	list := func(key string, dst *[]string) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = splitList(v)
		}
		return nil
	}

	steps := []func() error{
		func() error { return str("SERVER_COMMAND", &cfg.Server.Command) },
		func() error { return list("SERVER_ARGS", &cfg.Server.Args) },
		func() error { return dur("INIT_TIMEOUT", &cfg.Server.InitTimeout) },
		func() error { return dur("CALL_TIMEOUT", &cfg.Server.CallTimeout) },
		func() error { return dur("PROBE_TIMEOUT", &cfg.Server.ProbeTimeout) },
		func() error { return dur("SHUTDOWN_GRACE", &cfg.Server.ShutdownGrace) },
		func() error { return num("MAX_CONSECUTIVE_TIMEOUTS", &cfg.Server.MaxConsecutiveTimeouts) },
		func() error { return num("TAB_SIZE", &cfg.Server.TabSize) },
		func() error { return num("WORKERS", &cfg.Pool.Workers) },
		func() error { return num("QUEUE_CAPACITY", &cfg.Pool.QueueCapacity) },
		func() error { return dur("POOL_SHUTDOWN_TIMEOUT", &cfg.Pool.ShutdownTimeout) },
		func() error { return str("PREFLIGHT_POLICY", &cfg.Preflight.Policy) },
		func() error { return dur("PREFLIGHT_STALENESS", &cfg.Preflight.Staleness) },
		func() error { return list("PREFLIGHT_LOCK_DIRS", &cfg.Preflight.LockDirs) },
		func() error { return str("RULES_FILE", &cfg.Rules.File) },
		func() error { return str("LUA_HOOK", &cfg.Rules.LuaHook) },
		func() error { return list("INCLUDE", &cfg.Discover.Include) },
		func() error { return list("EXCLUDE", &cfg.Discover.Exclude) },
		func() error { return dur("WATCH_DEBOUNCE", &cfg.Watch.Debounce) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// splitList parses a comma-separated environment value.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
