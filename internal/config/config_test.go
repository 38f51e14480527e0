package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Enabled {
		t.Error("expected Enabled to default to true")
	}
	if cfg.Endpoint != "" {
		t.Errorf("expected empty default endpoint, got %q", cfg.Endpoint)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("expected default flush interval 5s, got %s", cfg.FlushInterval)
	}
	if cfg.QueueCapacity != 10_000 {
		t.Errorf("expected default queue capacity 10000, got %d", cfg.QueueCapacity)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.BreakerThreshold)
	}
	if cfg.BreakerResetTimeout != 60*time.Second {
		t.Errorf("expected default breaker reset 60s, got %s", cfg.BreakerResetTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected default shutdown timeout 10s, got %s", cfg.ShutdownTimeout)
	}
	if cfg.ServiceName != "hibiki" {
		t.Errorf("expected default service name hibiki, got %q", cfg.ServiceName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HIBIKI_ENABLED", "false")
	t.Setenv("HIBIKI_ENDPOINT", "https://traces.example.com")
	t.Setenv("HIBIKI_PUBLIC_KEY", "pk-live")
	t.Setenv("HIBIKI_SECRET_KEY", "sk-live")
	t.Setenv("HIBIKI_BATCH_SIZE", "25")
	t.Setenv("HIBIKI_FLUSH_INTERVAL", "250ms")
	t.Setenv("HIBIKI_QUEUE_CAPACITY", "500")
	t.Setenv("HIBIKI_MAX_RETRIES", "0")
	t.Setenv("HIBIKI_BREAKER_THRESHOLD", "3")
	t.Setenv("HIBIKI_BREAKER_RESET_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Enabled {
		t.Error("expected Enabled=false")
	}
	if cfg.Endpoint != "https://traces.example.com" {
		t.Errorf("unexpected endpoint %q", cfg.Endpoint)
	}
	if cfg.PublicKey != "pk-live" || cfg.SecretKey != "sk-live" {
		t.Error("credentials not loaded from env")
	}
	if cfg.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 250*time.Millisecond {
		t.Errorf("expected flush interval 250ms, got %s", cfg.FlushInterval)
	}
	if cfg.QueueCapacity != 500 {
		t.Errorf("expected queue capacity 500, got %d", cfg.QueueCapacity)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("expected max retries 0, got %d", cfg.MaxRetries)
	}
	if cfg.BreakerThreshold != 3 {
		t.Errorf("expected breaker threshold 3, got %d", cfg.BreakerThreshold)
	}
	if cfg.BreakerResetTimeout != 30*time.Second {
		t.Errorf("expected breaker reset 30s, got %s", cfg.BreakerResetTimeout)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HIBIKI_BATCH_SIZE", "lots")
	t.Setenv("HIBIKI_FLUSH_INTERVAL", "soon")
	t.Setenv("HIBIKI_ENABLED", "yep")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("malformed duration should fall back to default, got %s", cfg.FlushInterval)
	}
	if !cfg.Enabled {
		t.Error("malformed bool should fall back to default")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		BatchSize:           10,
		FlushInterval:       time.Second,
		QueueCapacity:       100,
		BreakerThreshold:    5,
		BreakerResetTimeout: time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero flush interval", func(c *Config) { c.FlushInterval = 0 }},
		{"capacity below batch size", func(c *Config) { c.QueueCapacity = 5 }},
		{"negative max retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero breaker threshold", func(c *Config) { c.BreakerThreshold = 0 }},
		{"zero breaker reset", func(c *Config) { c.BreakerResetTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
