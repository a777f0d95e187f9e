// Package config assembles the server settings from environment presets,
// an optional JSON file, a .env file, process environment and command-line
// flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
	RateLimitOff    = "off"
)

// Config holds runtime settings for the AndyWeb server.
//
// SessionSecretKey signs email verification tokens; staging and production
// enable verification only when it is set.
type Config struct {
	Environment      andyweb.Environment
	HTTPAddr         string
	DatabaseDriver   string
	DatabaseURL      string
	RedisURL         string
	SessionSecretKey string
	LogLevel         string
	LogFormat        string
	RateLimitBackend string
	CORSOrigins      []string
	TrustProxy       bool
	StrictHeaders    bool
	MetricsEnabled   bool
	CleanupInterval  time.Duration
	ShutdownTimeout  time.Duration
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Defaults returns the preset for env.
func Defaults(env andyweb.Environment) *Config {
	c := &Config{
		Environment:      env,
		HTTPAddr:         ":8000",
		DatabaseDriver:   "sqlite",
		DatabaseURL:      "file:andyweb.db",
		LogLevel:         "info",
		LogFormat:        "json",
		RateLimitBackend: RateLimitMemory,
		MetricsEnabled:   true,
		CleanupInterval:  time.Hour,
		ShutdownTimeout:  30 * time.Second,
	}

	switch env {
	case andyweb.EnvProduction:
		c.StrictHeaders = true
	case andyweb.EnvStaging:
	default:
		c.Environment = andyweb.EnvDevelopment
		c.LogLevel = "debug"
		c.LogFormat = "text"
		c.RateLimitBackend = RateLimitOff
		c.CORSOrigins = []string{"http://localhost:3000", "http://localhost:8000"}
	}
	return c
}

// LoadConfig reads .env if present and builds a Config from os.Args and
// the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Load(os.Args[1:], os.LookupEnv)
}

// Load builds a Config from args and lookup. The environment is resolved
// first (flag, then variable, then JSON file) so its preset can seed the
// remaining layers.
func Load(args []string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	flags, err := parseFlags(args)
	if err != nil {
		return nil, err
	}

	var file *JSONConfig
	if flags.configPath != "" {
		file, err = readJSON(flags.configPath)
		if err != nil {
			return nil, err
		}
	}

	cfg := Defaults(resolveEnvironment(flags, lookup, file))
	if file != nil {
		file.apply(cfg)
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	flags.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveEnvironment(flags *flagValues, lookup LookupFunc, file *JSONConfig) andyweb.Environment {
	if flags.environment != nil {
		return andyweb.ParseEnvironment(*flags.environment)
	}
	if v, ok := lookup("ENVIRONMENT"); ok && strings.TrimSpace(v) != "" {
		return andyweb.ParseEnvironment(v)
	}
	if file != nil && file.Environment != nil {
		return andyweb.ParseEnvironment(*file.Environment)
	}
	return andyweb.EnvDevelopment
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http address must not be empty")
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	switch c.RateLimitBackend {
	case RateLimitMemory, RateLimitOff:
	case RateLimitRedis:
		if c.RedisURL == "" {
			return errors.New("redis rate limiting requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.RateLimitBackend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.Environment == andyweb.EnvProduction && len(c.SessionSecretKey) < 32 {
		return errors.New("production requires SESSION_SECRET_KEY of at least 32 bytes")
	}
	if c.SessionSecretKey != "" && len(c.SessionSecretKey) < 32 {
		return errors.New("SESSION_SECRET_KEY must be at least 32 bytes")
	}
	if c.CleanupInterval < 0 || c.ShutdownTimeout < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}

// EngineConfig returns the engine preset matching c.
func (c *Config) EngineConfig() andyweb.Config {
	var key []byte
	if c.SessionSecretKey != "" {
		key = []byte(c.SessionSecretKey)
	}
	cfg := andyweb.ConfigForEnvironment(c.Environment, key)
	if !c.MetricsEnabled {
		cfg.Metrics.Enabled = false
		cfg.Metrics.EnableLatencyHistograms = false
	}
	return cfg
}

// RateLimitEnabled reports whether a limiter should be installed.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimitBackend != RateLimitOff
}
