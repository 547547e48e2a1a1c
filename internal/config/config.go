// Package config loads the proxy settings from the environment and an optional file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Supported cache backends
const (
	CacheBackendBadger    = "badger"
	CacheBackendMemory    = "memory"
	CacheBackendRistretto = "ristretto"
	CacheBackendRedis     = "redis"
)

// Config is the full proxy configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the inbound HTTP server
type ServerConfig struct {
	Port            int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"370s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// UpstreamConfig configures the exchange-rate provider. BaseURL and APIToken may
// be empty; the proxy then answers every cache miss with the generic error.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"api_url" env:"API_URL"`
	APIToken       string        `yaml:"api_token" env:"API_TOKEN"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"UPSTREAM_CONNECT_TIMEOUT" env-default:"300s"`
	// Timeout bounds the wait for response headers once connected
	Timeout        time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" env-default:"60s"`
}

// Configured reports whether both upstream settings are present
func (u UpstreamConfig) Configured() bool {
	return u.BaseURL != "" && u.APIToken != ""
}

// CacheConfig selects and configures the quote cache store
type CacheConfig struct {
	Backend          string `yaml:"backend" env:"CACHE_BACKEND" env-default:"badger"`
	BadgerPath       string `yaml:"badger_path" env:"BADGER_PATH" env-default:"./data"`
	RedisURL         string `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	RistrettoMaxCost int64  `yaml:"ristretto_max_cost" env:"RISTRETTO_MAX_COST" env-default:"67108864"`
}

// LogConfig configures the JSON logger
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"INFO"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_PATH if
// set, then the environment. Environment variables win over file values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would make the process unusable. Missing
// upstream settings are not an error.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.Server.Port)
	}

	if c.Upstream.ConnectTimeout <= 0 || c.Upstream.Timeout <= 0 {
		return errors.New("upstream timeouts must be positive")
	}

	switch c.Cache.Backend {
	case CacheBackendBadger:
		if c.Cache.BadgerPath == "" {
			return errors.New("BADGER_PATH is required for the badger cache backend")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis cache backend")
		}
	case CacheBackendRistretto:
		if c.Cache.RistrettoMaxCost <= 0 {
			return errors.New("RISTRETTO_MAX_COST must be positive")
		}
	case CacheBackendMemory:
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}

	return nil
}
