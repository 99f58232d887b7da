package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for extractly-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords, API
// keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	Database   DatabaseConfig   `yaml:"database"`
	AI         AIConfig         `yaml:"ai"`
	Storage    StorageConfig    `yaml:"storage"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"extractly"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"extractly_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// AIConfig holds the generative model endpoint used for extraction.
// Provider selects the client implementation: "openai" covers any
// OpenAI-compatible endpoint, "anthropic" uses the Anthropic API.
type AIConfig struct {
	Provider    string  `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"AI_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o"`
	APIKey      string  `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.2"`
	MaxRetries  int     `yaml:"max_retries" env:"AI_MAX_RETRIES" env-default:"2"`
}

// StorageConfig selects the document blob store. Driver "memory" keeps
// uploads in process (local development and tests); "gcs" uses a Google
// Cloud Storage bucket.
type StorageConfig struct {
	Driver       string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	Bucket       string        `yaml:"bucket" env:"STORAGE_BUCKET" env-default:""`
	SignedURLTTL time.Duration `yaml:"signed_url_ttl" env:"STORAGE_SIGNED_URL_TTL" env-default:"15m"`
}

// ExtractionConfig holds pipeline limits and the poll budget advertised to
// job-status clients.
type ExtractionConfig struct {
	MaxFileSizeBytes int64         `yaml:"max_file_size_bytes" env:"EXTRACTION_MAX_FILE_SIZE_BYTES" env-default:"52428800"` // 50 MB
	PollInterval     time.Duration `yaml:"poll_interval" env:"EXTRACTION_POLL_INTERVAL" env-default:"5s"`
	PollTimeout      time.Duration `yaml:"poll_timeout" env:"EXTRACTION_POLL_TIMEOUT" env-default:"5m"`
	MaxConcurrentAI  int           `yaml:"max_concurrent_ai" env:"EXTRACTION_MAX_CONCURRENT_AI" env-default:"1"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Auto-derive BaseURL from Port if not explicitly set.
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	switch c.Storage.Driver {
	case "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage.driver is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Extraction.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("extraction.max_file_size_bytes must be positive")
	}
	return nil
}
