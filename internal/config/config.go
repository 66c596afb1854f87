// Package config loads mailroom settings. Values are layered: built-in
// defaults, then an optional YAML file, then MAILROOM_* environment variables
// (a .env file in the working directory is loaded first), then CLI flags,
// which the command layer applies last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MAILROOM_"

// Config is the full set of mailroom settings.
type Config struct {
	// Handle is the identity commands act as when --as is not given.
	Handle  string        `yaml:"handle"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	BusyRetries int           `yaml:"busy_retries"`
	AdminTag    string        `yaml:"admin_tag"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto|console|json
}

// ServerConfig configures the REST wrapper.
type ServerConfig struct {
	Addr           string          `yaml:"addr"`
	JWTSecret      string          `yaml:"jwt_secret"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Metrics        bool            `yaml:"metrics"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Store: StoreConfig{
			BusyTimeout: 5 * time.Second,
			BusyRetries: 0,
			AdminTag:    "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Addr: ":8080",
			RateLimit: RateLimitConfig{
				RPS:   5,
				Burst: 10,
			},
			Metrics: true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty), and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file without overriding ones already
// set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays MAILROOM_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("AS", &c.Handle)
	str("STORE", &c.Store.Path)
	str("ADMIN_TAG", &c.Store.AdminTag)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("ADDR", &c.Server.Addr)
	str("JWT_SECRET", &c.Server.JWTSecret)

	if v, ok := lookup(EnvPrefix + "BUSY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBUSY_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Store.BusyTimeout = d
	}
	if v, ok := lookup(EnvPrefix + "BUSY_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBUSY_RETRIES: %w", EnvPrefix, err)
		}
		c.Store.BusyRetries = n
	}
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		c.Server.RateLimit.RPS = rps
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_BURST"); ok && v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_BURST: %w", EnvPrefix, err)
		}
		c.Server.RateLimit.Burst = burst
	}
	if v, ok := lookup(EnvPrefix + "METRICS"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS: %w", EnvPrefix, err)
		}
		c.Server.Metrics = enabled
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
