package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanasvc "github.com/brojonat/solhist/service/solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaNetwork string
	SolanaRPCURL  string

	// RPC call behavior
	RPCMaxAttempts  int
	RPCCallTimeout  time.Duration
	RPCRequestDelay time.Duration

	// HistoryLimit is the number of signatures reconciled when a caller
	// does not ask for a specific count.
	HistoryLimit int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration for tracked addresses
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration; the RPC URL defaults to the network's public endpoint
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", solanasvc.NetworkDevnet)
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	defaultURL, err := solanasvc.DefaultRPCURL(cfg.SolanaNetwork)
	if err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK: %w", err))
	} else if cfg.SolanaRPCURL == "" {
		cfg.SolanaRPCURL = defaultURL
	}

	// RPC call behavior
	cfg.RPCMaxAttempts, err = parseInt("RPC_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCCallTimeout, err = parseDuration("RPC_CALL_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCRequestDelay, err = parseDuration("RPC_REQUEST_DELAY", "0s")
	if err != nil {
		errs = append(errs, err)
	}

	cfg.HistoryLimit, err = parseInt("HISTORY_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solhist-reconcile")

	// Polling configuration
	cfg.DefaultPollInterval, err = parseDuration("DEFAULT_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MinPollInterval, err = parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	}

	// Range checks only make sense once every value parsed
	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if _, err := solanasvc.DefaultRPCURL(c.SolanaNetwork); err != nil {
		errs = append(errs, fmt.Errorf("SolanaNetwork: %w", err))
	}

	if c.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxAttempts must be at least 1"))
	}

	if c.RPCCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCCallTimeout must be positive"))
	}

	if c.RPCRequestDelay < 0 {
		errs = append(errs, fmt.Errorf("RPCRequestDelay cannot be negative"))
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		errs = append(errs, fmt.Errorf("HistoryLimit must be between 1 and 1000, got %d", c.HistoryLimit))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval (%v) cannot be greater than DefaultPollInterval (%v)",
			c.MinPollInterval, c.DefaultPollInterval))
	}

	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
