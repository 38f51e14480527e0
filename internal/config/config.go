// Package config loads and validates tracing configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all tracing pipeline configuration.
type Config struct {
	// Enabled controls whether events are shipped at all. When false the
	// manager wires a no-op backend and the whole API becomes free.
	Enabled bool

	// Ingestion backend settings.
	Endpoint  string // Base URL of the ingestion backend, e.g. "https://traces.example.com".
	PublicKey string // Public half of the API key pair, sent as the Basic auth username.
	SecretKey string // Secret half of the API key pair, sent as the Basic auth password.

	// Batching settings.
	BatchSize     int           // Events per flush; reaching it triggers an immediate flush.
	FlushInterval time.Duration // Maximum time an event sits in the queue before a flush.
	QueueCapacity int           // Hard queue bound; oldest events are dropped beyond it.

	// Delivery settings.
	MaxRetries          int           // Retries per batch send on transient failures.
	BreakerThreshold    int           // Consecutive failures before the circuit opens.
	BreakerResetTimeout time.Duration // Time the circuit stays open before a trial send.
	RequestTimeout      time.Duration // Per-request HTTP timeout.

	// Shutdown settings.
	ShutdownTimeout time.Duration // Upper bound on the final drain during Shutdown.

	// OTEL settings for the pipeline's own metrics (queue depth, drops).
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Enabled:             envBool("HIBIKI_ENABLED", true),
		Endpoint:            envStr("HIBIKI_ENDPOINT", ""),
		PublicKey:           envStr("HIBIKI_PUBLIC_KEY", ""),
		SecretKey:           envStr("HIBIKI_SECRET_KEY", ""),
		BatchSize:           envInt("HIBIKI_BATCH_SIZE", 100),
		FlushInterval:       envDuration("HIBIKI_FLUSH_INTERVAL", 5*time.Second),
		QueueCapacity:       envInt("HIBIKI_QUEUE_CAPACITY", 10_000),
		MaxRetries:          envInt("HIBIKI_MAX_RETRIES", 3),
		BreakerThreshold:    envInt("HIBIKI_BREAKER_THRESHOLD", 5),
		BreakerResetTimeout: envDuration("HIBIKI_BREAKER_RESET_TIMEOUT", 60*time.Second),
		RequestTimeout:      envDuration("HIBIKI_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     envDuration("HIBIKI_SHUTDOWN_TIMEOUT", 10*time.Second),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "hibiki"),
		LogLevel:            envStr("HIBIKI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// Credential presence is checked by the manager, not here, because options
// may still override Endpoint/PublicKey/SecretKey after Load.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: HIBIKI_BATCH_SIZE must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: HIBIKI_FLUSH_INTERVAL must be positive")
	}
	if c.QueueCapacity < c.BatchSize {
		return fmt.Errorf("config: HIBIKI_QUEUE_CAPACITY must be at least HIBIKI_BATCH_SIZE")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: HIBIKI_MAX_RETRIES must not be negative")
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("config: HIBIKI_BREAKER_THRESHOLD must be positive")
	}
	if c.BreakerResetTimeout <= 0 {
		return fmt.Errorf("config: HIBIKI_BREAKER_RESET_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
