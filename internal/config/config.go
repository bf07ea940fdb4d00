// Package config loads service settings from an optional YAML file, a .env
// file and the process environment. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultReplayTimeout is the hard ceiling for a single outbound replay.
const DefaultReplayTimeout = 20 * time.Second

// Config holds every runtime setting of the service.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AdminToken string `yaml:"admin_token"`

	StoreDriver string   `yaml:"store_driver"`
	Database    Database `yaml:"database"`

	MaxBodyBytes        int64         `yaml:"max_body_bytes"`
	ReplayTimeout       time.Duration `yaml:"replay_timeout"`
	ReplayMaxConcurrent int           `yaml:"replay_max_concurrent"`

	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
	CORSAllowOrigin   string `yaml:"cors_allow_origin"`

	Archive Archive `yaml:"archive"`
	Ngrok   Ngrok   `yaml:"ngrok"`
}

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Archive configures S3 uploads of bin exports. Empty Bucket disables it.
type Archive struct {
	Bucket  string        `yaml:"bucket"`
	Prefix  string        `yaml:"prefix"`
	Region  string        `yaml:"region"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether archiving is configured.
func (a Archive) Enabled() bool { return a.Bucket != "" }

// Ngrok configures the optional public tunnel.
type Ngrok struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

// Default returns the built-in settings used before any file or env overlay.
func Default() Config {
	return Config{
		Port:        "8080",
		LogLevel:    "info",
		LogFormat:   "json",
		StoreDriver: DriverPostgres,
		Database: Database{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "hookdock",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		MaxBodyBytes:        10 << 20,
		ReplayTimeout:       DefaultReplayTimeout,
		ReplayMaxConcurrent: 32,
		CORSAllowOrigin:     "*",
		Archive: Archive{
			Prefix:  "hookdock/",
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty; when set, the YAML file
// must exist. A .env file in the working directory is loaded if present.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("HOOKDOCK_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.AdminToken = strings.TrimSpace(getEnv("ADMIN_TOKEN", c.AdminToken))
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.CORSAllowOrigin = getEnv("CORS_ALLOW_ORIGIN", c.CORSAllowOrigin)

	c.Archive.Bucket = getEnv("ARCHIVE_BUCKET", c.Archive.Bucket)
	c.Archive.Prefix = getEnv("ARCHIVE_PREFIX", c.Archive.Prefix)
	c.Archive.Region = getEnv("AWS_REGION", c.Archive.Region)

	c.Ngrok.AuthToken = getEnv("NGROK_AUTHTOKEN", c.Ngrok.AuthToken)
	c.Ngrok.Domain = getEnv("NGROK_DOMAIN", c.Ngrok.Domain)

	var err error
	if c.Database.MaxConns, err = getEnvInt32("DB_MAX_CONNS", c.Database.MaxConns); err != nil {
		return err
	}
	if c.MaxBodyBytes, err = getEnvInt64("MAX_BODY_BYTES", c.MaxBodyBytes); err != nil {
		return err
	}
	if c.ReplayMaxConcurrent, err = getEnvInt("REPLAY_MAX_CONCURRENT", c.ReplayMaxConcurrent); err != nil {
		return err
	}
	if c.ReplayTimeout, err = getEnvDuration("REPLAY_TIMEOUT", c.ReplayTimeout); err != nil {
		return err
	}
	if c.Archive.Timeout, err = getEnvDuration("ARCHIVE_TIMEOUT", c.Archive.Timeout); err != nil {
		return err
	}
	if c.TrustProxyHeaders, err = getEnvBool("TRUST_PROXY_HEADERS", c.TrustProxyHeaders); err != nil {
		return err
	}
	if c.Ngrok.Enabled, err = getEnvBool("NGROK_ENABLED", c.Ngrok.Enabled); err != nil {
		return err
	}
	return nil
}

// normalize replaces values that would disable a safety bound.
func (c *Config) normalize() {
	// A zero timeout on http.Client means "wait forever".
	if c.ReplayTimeout <= 0 {
		c.ReplayTimeout = DefaultReplayTimeout
	}
	if c.ReplayMaxConcurrent <= 0 {
		c.ReplayMaxConcurrent = 1
	}
	if c.Archive.Timeout <= 0 {
		c.Archive.Timeout = 30 * time.Second
	}
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvInt32(key string, fallback int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q: %w", key, v, err)
	}
	return int32(n), nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid int64 env %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration env %s=%q: %w", key, v, err)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool env %s=%q: %w", key, v, err)
	}
	return b, nil
}
