package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Collect.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.Collect.BatchSize)
	}
	if cfg.Collect.AzureRetention != 90*24*time.Hour {
		t.Errorf("AzureRetention = %v, want 90 days", cfg.Collect.AzureRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
collect:
  batch_size: 250
  workers: 2
storage:
  clickhouse:
    database: forensics
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCOPE_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Collect.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", cfg.Collect.BatchSize)
	}
	if cfg.Storage.ClickHouse.Database != "forensics" {
		t.Errorf("Database = %q, want forensics", cfg.Storage.ClickHouse.Database)
	}
	// Unset values keep defaults.
	if cfg.Collect.QueueDepth != 16 {
		t.Errorf("QueueDepth = %d, want default 16", cfg.Collect.QueueDepth)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SCOPE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Collect.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want default 1000", cfg.Collect.BatchSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCOPE_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("CLICKHOUSE_HOST", "ch.internal:9000")
	t.Setenv("SCOPE_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Storage.ClickHouse.Hosts) != 1 || cfg.Storage.ClickHouse.Hosts[0] != "ch.internal:9000" {
		t.Errorf("Hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if !cfg.Tasks.Enabled {
		t.Error("Tasks.Enabled should be set by SCOPE_KAFKA_BROKERS")
	}
	if len(cfg.Tasks.Brokers) != 2 || cfg.Tasks.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Tasks.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero batch size", func(c *Config) { c.Collect.BatchSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Collect.Workers = 0 }, true},
		{"no clickhouse hosts", func(c *Config) { c.Storage.ClickHouse.Hosts = nil }, true},
		{"tasks without brokers", func(c *Config) { c.Tasks.Enabled = true; c.Tasks.Brokers = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
