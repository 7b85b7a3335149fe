// Package config loads fmtflow's configuration: defaults, overlaid by
// an optional TOML file, overlaid by FMTFLOW_* environment variables.
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so TOML and environment values can be
// written as "30s" or "10m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the external formatting server session.
type ServerConfig struct {
	// Command is the server executable. Required.
	Command string `toml:"command"`

	// Args are passed to the server verbatim.
	Args []string `toml:"args"`

	// InitTimeout bounds the initialization handshake.
	InitTimeout Duration `toml:"init_timeout"`

	// CallTimeout bounds each format request.
	CallTimeout Duration `toml:"call_timeout"`

	// ProbeTimeout is the total readiness probe budget.
	ProbeTimeout Duration `toml:"probe_timeout"`

	// ShutdownGrace is how long to wait for a polite exit.
	ShutdownGrace Duration `toml:"shutdown_grace"`

	// MaxConsecutiveTimeouts aborts the run when this many format
	// calls time out in a row. Zero or negative disables the ceiling.
	MaxConsecutiveTimeouts int `toml:"max_consecutive_timeouts"`

	// TabSize and InsertSpaces are the formatting options sent with
	// every request.
	TabSize      int  `toml:"tab_size"`
	InsertSpaces bool `toml:"insert_spaces"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers         int      `toml:"workers"`
	QueueCapacity   int      `toml:"queue_capacity"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// PreflightConfig configures stray-process cleanup.
type PreflightConfig struct {
	// Policy is one of off, warn, safe, kill+clean, aggressive, fail.
	Policy    string   `toml:"policy"`
	Staleness Duration `toml:"staleness"`
	LockDirs  []string `toml:"lock_dirs"`
}

// RulesConfig points at the post-processing definitions.
type RulesConfig struct {
	File    string `toml:"file"`
	LuaHook string `toml:"lua_hook"`
}

// DiscoverConfig configures file discovery.
type DiscoverConfig struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// Config is the full fmtflow configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Pool      PoolConfig      `toml:"pool"`
	Preflight PreflightConfig `toml:"preflight"`
	Rules     RulesConfig     `toml:"rules"`
	Discover  DiscoverConfig  `toml:"discover"`
	Watch     WatchConfig     `toml:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			InitTimeout:            Duration(30 * time.Second),
			CallTimeout:            Duration(10 * time.Second),
			ProbeTimeout:           Duration(20 * time.Second),
			ShutdownGrace:          Duration(2 * time.Second),
			MaxConsecutiveTimeouts: 5,
			TabSize:                4,
			InsertSpaces:           true,
		},
		Pool: PoolConfig{
			Workers:         4,
			QueueCapacity:   8,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Preflight: PreflightConfig{
			Policy:    "safe",
			Staleness: Duration(30 * time.Minute),
		},
		Watch: WatchConfig{
			Debounce: Duration(300 * time.Millisecond),
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Command == "" {
		return fmt.Errorf("server.command is required")
	}
	if c.Server.InitTimeout <= 0 {
		return fmt.Errorf("server.init_timeout must be positive")
	}
	if c.Server.CallTimeout <= 0 {
		return fmt.Errorf("server.call_timeout must be positive")
	}
	if c.Server.ProbeTimeout <= 0 {
		return fmt.Errorf("server.probe_timeout must be positive")
	}
	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("server.shutdown_grace must be positive")
	}
	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be at least 1")
	}
	if c.Pool.QueueCapacity < 1 {
		return fmt.Errorf("pool.queue_capacity must be at least 1")
	}
	if c.Pool.ShutdownTimeout <= 0 {
		return fmt.Errorf("pool.shutdown_timeout must be positive")
	}
	switch c.Preflight.Policy {
	case "off", "warn", "safe", "kill+clean", "kill-clean", "aggressive", "fail":
	default:
		return fmt.Errorf("preflight.policy: unknown policy %q", c.Preflight.Policy)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}
