// Package config handles configuration loading for cloudscope.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Logging Logging `yaml:"logging"`
	Collect Collect `yaml:"collect"`
	Storage Storage `yaml:"storage"`
	Redis   Redis   `yaml:"redis"`
	Tasks   Tasks   `yaml:"tasks"`
	Detect  Detect  `yaml:"detect"`
}

// Logging holds logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Collect holds raw-event collection settings.
type Collect struct {
	BatchSize      int           `yaml:"batch_size"`
	QueueDepth     int           `yaml:"queue_depth"`
	Workers        int           `yaml:"workers"`
	DefaultRegions []string      `yaml:"default_regions"`
	SaveRawDir     string        `yaml:"save_raw_dir"`
	AzureRetention time.Duration `yaml:"azure_retention"`
}

// Storage holds event store settings.
type Storage struct {
	ClickHouse ClickHouse `yaml:"clickhouse"`
	Insert     Insert     `yaml:"insert"`
}

// ClickHouse holds ClickHouse connection settings.
type ClickHouse struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// Insert holds batch insert settings.
type Insert struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Redis holds run-lock store settings.
type Redis struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// Tasks holds background job queue settings.
type Tasks struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

// Detect holds detection engine settings.
type Detect struct {
	RulesDir string `yaml:"rules_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Collect: Collect{
			BatchSize:      1000,
			QueueDepth:     16,
			Workers:        4,
			DefaultRegions: nil, // discovered from the bucket layout
			// One day inside the provider's 90-day limit.
			AzureRetention: 89 * 24 * time.Hour,
		},
		Storage: Storage{
			ClickHouse: ClickHouse{
				Hosts:           []string{"localhost:9000"},
				Database:        "cloudscope",
				Username:        "default",
				Password:        "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				TLSEnabled:      false,
				DialTimeout:     10 * time.Second,
			},
			Insert: Insert{
				MaxRetries: 3,
				RetryDelay: time.Second,
				Timeout:    30 * time.Second,
			},
		},
		Redis: Redis{
			Addr:        "localhost:6379",
			DB:          0,
			DialTimeout: 5 * time.Second,
			LockTTL:     15 * time.Minute,
		},
		Tasks: Tasks{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "cloudscope.jobs",
			ConsumerGroup: "cloudscope-workers",
			MaxRetries:    3,
			RetryBackoff:  time.Second,
			CommitTimeout: 10 * time.Second,
		},
		Detect: Detect{
			RulesDir: "rules",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SCOPE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SCOPE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if size := os.Getenv("SCOPE_BATCH_SIZE"); size != "" {
		fmt.Sscanf(size, "%d", &c.Collect.BatchSize)
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if addr := os.Getenv("SCOPE_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}

	if brokers := os.Getenv("SCOPE_KAFKA_BROKERS"); brokers != "" {
		c.Tasks.Brokers = splitAndTrim(brokers, ",")
		c.Tasks.Enabled = true
	}
}

// splitAndTrim splits a string by separator and trims whitespace from
// each part, dropping empties.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Collect.BatchSize <= 0 {
		return fmt.Errorf("collect batch_size must be positive")
	}

	if c.Collect.QueueDepth <= 0 {
		return fmt.Errorf("collect queue_depth must be positive")
	}

	if c.Collect.Workers <= 0 {
		return fmt.Errorf("collect workers must be positive")
	}

	if len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("clickhouse hosts must not be empty")
	}

	if c.Tasks.Enabled && len(c.Tasks.Brokers) == 0 {
		return fmt.Errorf("tasks enabled but no brokers configured")
	}

	return nil
}
