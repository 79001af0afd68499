// Package config loads overnats' recognized configuration options (spec
// §6): heartbeatInterval, lockTimeout, and streamDefaults. Precedence is
// file lowest, environment next, flags highest — the same envOr/envIntOr
// layering the teacher's controller config uses, with an optional TOML
// file as a fourth, lower-priority source underneath it.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// StreamDefaults holds the four numeric stream limits read from the config
// file's stream_defaults table. Parse only loads them: the producer package
// creates its streams with its own fixed limits and does not read these.
type StreamDefaults struct {
	MaxMsgs    int64 `toml:"max_msgs"`
	MaxAge     int64 `toml:"max_age_seconds"`
	MaxBytes   int64 `toml:"max_bytes"`
	MaxMsgSize int32 `toml:"max_msg_size"`
}

// fileConfig is the shape of an optional TOML config file — the lowest
// priority source.
type fileConfig struct {
	HeartbeatIntervalMS int64          `toml:"heartbeat_interval_ms"`
	LockTimeoutMS       int64          `toml:"lock_timeout_ms"`
	Stream              StreamDefaults `toml:"stream_defaults"`
}

// Config holds the settings Parse resolves. Producer, Consumer and Mutex
// take their own options at construction and do not read a Config.
type Config struct {
	// HeartbeatInterval is the Producer/Consumer heartbeat cadence
	// (env: OVERNATS_HEARTBEAT_INTERVAL_MS; default 10s, spec.md §9).
	HeartbeatInterval time.Duration

	// LockTimeout is the distributed Mutex's KV TTL (env:
	// OVERNATS_LOCK_TIMEOUT_MS; default 10s per spec §6).
	LockTimeout time.Duration

	// StreamDefaults carries the file's stream limits (see StreamDefaults).
	StreamDefaults StreamDefaults
}

const (
	defaultHeartbeatIntervalMS = 10_000
	defaultLockTimeoutMS       = 10_000
)

// Parse loads configuration from, in increasing priority: an optional TOML
// file at path (skipped if path is empty or the file does not exist; any
// other read or decode error is returned), environment
// variables, and command-line flags.
func Parse(path string, args []string) (*Config, error) {
	fc := fileConfig{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg := &Config{
		HeartbeatInterval: envDurationMS("OVERNATS_HEARTBEAT_INTERVAL_MS", firstNonZero(fc.HeartbeatIntervalMS, defaultHeartbeatIntervalMS)),
		LockTimeout:       envDurationMS("OVERNATS_LOCK_TIMEOUT_MS", firstNonZero(fc.LockTimeoutMS, defaultLockTimeoutMS)),
		StreamDefaults:    fc.Stream,
	}

	fs := flag.NewFlagSet("overnats", flag.ContinueOnError)
	heartbeatMS := fs.Int64("heartbeat-interval-ms", cfg.HeartbeatInterval.Milliseconds(), "heartbeat interval in milliseconds")
	lockTimeoutMS := fs.Int64("lock-timeout-ms", cfg.LockTimeout.Milliseconds(), "distributed lock TTL in milliseconds")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.HeartbeatInterval = time.Duration(*heartbeatMS) * time.Millisecond
	cfg.LockTimeout = time.Duration(*lockTimeoutMS) * time.Millisecond

	return cfg, nil
}

func firstNonZero(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func envDurationMS(key string, fallback int64) time.Duration {
	ms := fallback
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ms = n
		}
	}
	return time.Duration(ms) * time.Millisecond
}
