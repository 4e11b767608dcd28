package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment variable names recognised by the control plane.
const (
	EnvRedisHost           = "REDIS_HOST"
	EnvRedisPort           = "REDIS_PORT"
	EnvRedisClusterMode    = "REDIS_CLUSTER_MODE"
	EnvExecutionTTLSeconds = "REDIS_EXECUTION_TTL_SECONDS"
	EnvMaxQueryTimeoutMs   = "MAX_QUERY_TIMEOUT_MS"
	EnvStatementTimeoutMs  = "STATEMENT_TIMEOUT_MS"
	EnvSessionTTLSeconds   = "SESSION_TTL_SECONDS"
)

// Defaults for the environment-derived settings.
const (
	DefaultRedisPort        = 6379
	DefaultExecutionTTL     = 300 * time.Second
	DefaultMaxQueryTimeout  = 300_000 * time.Millisecond
	DefaultStatementTimeout = 300_000 * time.Millisecond
	DefaultSessionTTL       = 3600 * time.Second
)

// Settings collects the runtime tunables read from the environment.
type Settings struct {
	// RedisHost and RedisPort locate the shared execution store. When
	// RedisHost is localhost the store falls back to the in-memory tier,
	// which is only acceptable in local development.
	RedisHost string
	RedisPort int

	// RedisClusterMode selects a cluster client for the shared store.
	RedisClusterMode bool

	// ExecutionTTL bounds how long execution records are pollable.
	ExecutionTTL time.Duration

	// MaxQueryTimeout and StatementTimeout bound statement wall-clock time;
	// the effective per-statement timeout is the larger of StatementTimeout
	// and the request's own timeout, capped by MaxQueryTimeout.
	MaxQueryTimeout  time.Duration
	StatementTimeout time.Duration

	// SessionTTL is forwarded to the session gateway configuration.
	SessionTTL time.Duration
}

// SettingsFromEnv reads Settings from the process environment, applying
// defaults and logging a warning for values that fail to parse.
func SettingsFromEnv(logger *slog.Logger) Settings {
	s := Settings{
		RedisHost:        os.Getenv(EnvRedisHost),
		RedisPort:        DefaultRedisPort,
		RedisClusterMode: os.Getenv(EnvRedisClusterMode) == "true",
		ExecutionTTL:     DefaultExecutionTTL,
		MaxQueryTimeout:  DefaultMaxQueryTimeout,
		StatementTimeout: DefaultStatementTimeout,
		SessionTTL:       DefaultSessionTTL,
	}
	if s.RedisHost == "" {
		s.RedisHost = "localhost"
	}

	if port, ok := parseIntEnv(os.Getenv(EnvRedisPort), EnvRedisPort, logger); ok {
		s.RedisPort = port
	}
	if ttl, ok := parseSecondsEnv(os.Getenv(EnvExecutionTTLSeconds), EnvExecutionTTLSeconds, logger); ok {
		s.ExecutionTTL = ttl
	}
	if d, ok := parseMillisEnv(os.Getenv(EnvMaxQueryTimeoutMs), EnvMaxQueryTimeoutMs, logger); ok {
		s.MaxQueryTimeout = d
	}
	if d, ok := parseMillisEnv(os.Getenv(EnvStatementTimeoutMs), EnvStatementTimeoutMs, logger); ok {
		s.StatementTimeout = d
	}
	if ttl, ok := parseSecondsEnv(os.Getenv(EnvSessionTTLSeconds), EnvSessionTTLSeconds, logger); ok {
		s.SessionTTL = ttl
	}
	return s
}

// SharedStoreIsLocal reports whether the execution store endpoint is a local
// development instance, which enables the in-memory fallback tier.
func (s Settings) SharedStoreIsLocal() bool {
	return s.RedisHost == "localhost" || s.RedisHost == "127.0.0.1"
}

// parseIntEnv parses a positive integer from an environment variable value.
// Returns the parsed value and true, or zero and false if absent or invalid.
func parseIntEnv(value, envName string, logger *slog.Logger) (int, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		logger.Warn("ignoring invalid integer environment variable",
			slog.String("name", envName), slog.String("value", value))
		return 0, false
	}
	return n, true
}

// parseSecondsEnv parses a duration expressed as whole seconds.
func parseSecondsEnv(value, envName string, logger *slog.Logger) (time.Duration, bool) {
	n, ok := parseIntEnv(value, envName, logger)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// parseMillisEnv parses a duration expressed as whole milliseconds.
func parseMillisEnv(value, envName string, logger *slog.Logger) (time.Duration, bool) {
	n, ok := parseIntEnv(value, envName, logger)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
