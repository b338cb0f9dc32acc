package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Identity IdentityConfig `yaml:"identity" envconfig:"IDENTITY"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains license store configuration.
// An empty DSN selects the in-memory store (development and tests).
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"1h"`
}

// SecurityConfig contains caller credentials and rate limiting
type SecurityConfig struct {
	APIKey        string          `yaml:"api_key" envconfig:"API_KEY"`
	WebhookSecret string          `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"50"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"25"`
}

// IdentityConfig contains the external identity provider settings
// used by the credential-bearing validation path.
type IdentityConfig struct {
	Auth0Domain string        `yaml:"auth0_domain" envconfig:"AUTH0_DOMAIN"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
}

// LicenseConfig contains licensing business parameters
type LicenseConfig struct {
	MaxDevices       int           `yaml:"max_devices" envconfig:"MAX_DEVICES" default:"2"`
	CodeAttempts     int           `yaml:"code_attempts" envconfig:"CODE_ATTEMPTS" default:"5"`
	ValidationTTL    time.Duration `yaml:"validation_ttl" envconfig:"VALIDATION_TTL" default:"30s"`
	ApprovedStatuses []string      `yaml:"approved_statuses" envconfig:"APPROVED_STATUSES" default:"APPROVED,COMPLETE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
}

// Load loads configuration from environment variables and an optional config file.
// Environment variables (LICENSING_ prefix) win over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LICENSING", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := os.Getenv("LICENSING_CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// mergeConfigs merges the file configuration into the environment configuration.
// Environment values (including envconfig defaults) take precedence; the file
// only fills fields the environment left empty.
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Database.DSN == "" {
		envConfig.Database.DSN = fileConfig.Database.DSN
	}
	if envConfig.Security.APIKey == "" {
		envConfig.Security.APIKey = fileConfig.Security.APIKey
	}
	if envConfig.Security.WebhookSecret == "" {
		envConfig.Security.WebhookSecret = fileConfig.Security.WebhookSecret
	}
	if envConfig.Identity.Auth0Domain == "" {
		envConfig.Identity.Auth0Domain = fileConfig.Identity.Auth0Domain
	}
	return envConfig
}

// validate checks the configuration for invalid values
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.MaxDevices < 1 {
		return fmt.Errorf("license max_devices must be positive, got %d", c.License.MaxDevices)
	}
	if c.License.CodeAttempts < 1 {
		return fmt.Errorf("license code_attempts must be positive, got %d", c.License.CodeAttempts)
	}
	if len(c.License.ApprovedStatuses) == 0 {
		return fmt.Errorf("license approved_statuses must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
