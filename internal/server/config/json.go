package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration parses both "90s" style strings and integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}

// JSONConfig is the on-disk form of Config. Absent keys leave the preset
// untouched.
type JSONConfig struct {
	Environment      *string   `json:"environment"`
	HTTPAddr         *string   `json:"http_addr"`
	DatabaseDriver   *string   `json:"database_driver"`
	DatabaseURL      *string   `json:"database_url"`
	RedisURL         *string   `json:"redis_url"`
	SessionSecretKey *string   `json:"session_secret_key"`
	LogLevel         *string   `json:"log_level"`
	LogFormat        *string   `json:"log_format"`
	RateLimitBackend *string   `json:"rate_limit_backend"`
	CORSOrigins      []string  `json:"cors_origins"`
	TrustProxy       *bool     `json:"trust_proxy"`
	StrictHeaders    *bool     `json:"strict_headers"`
	MetricsEnabled   *bool     `json:"metrics_enabled"`
	CleanupInterval  *Duration `json:"cleanup_interval"`
	ShutdownTimeout  *Duration `json:"shutdown_timeout"`
}

func readJSON(path string) (*JSONConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c := &JSONConfig{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c, nil
}

func (j *JSONConfig) apply(c *Config) {
	setString(&c.HTTPAddr, j.HTTPAddr)
	setString(&c.DatabaseDriver, j.DatabaseDriver)
	setString(&c.DatabaseURL, j.DatabaseURL)
	setString(&c.RedisURL, j.RedisURL)
	setString(&c.SessionSecretKey, j.SessionSecretKey)
	setString(&c.LogLevel, j.LogLevel)
	setString(&c.LogFormat, j.LogFormat)
	setString(&c.RateLimitBackend, j.RateLimitBackend)
	if j.CORSOrigins != nil {
		c.CORSOrigins = append([]string(nil), j.CORSOrigins...)
	}
	if j.TrustProxy != nil {
		c.TrustProxy = *j.TrustProxy
	}
	if j.StrictHeaders != nil {
		c.StrictHeaders = *j.StrictHeaders
	}
	if j.MetricsEnabled != nil {
		c.MetricsEnabled = *j.MetricsEnabled
	}
	if j.CleanupInterval != nil {
		c.CleanupInterval = time.Duration(*j.CleanupInterval)
	}
	if j.ShutdownTimeout != nil {
		c.ShutdownTimeout = time.Duration(*j.ShutdownTimeout)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
