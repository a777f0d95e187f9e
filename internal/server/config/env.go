package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func applyEnv(c *Config, lookup LookupFunc) error {
	getString(lookup, "HTTP_ADDR", &c.HTTPAddr)
	getString(lookup, "DATABASE_DRIVER", &c.DatabaseDriver)
	getString(lookup, "DATABASE_URL", &c.DatabaseURL)
	getString(lookup, "REDIS_URL", &c.RedisURL)
	getString(lookup, "SESSION_SECRET_KEY", &c.SessionSecretKey)
	getString(lookup, "LOG_LEVEL", &c.LogLevel)
	getString(lookup, "LOG_FORMAT", &c.LogFormat)
	getString(lookup, "RATE_LIMIT_BACKEND", &c.RateLimitBackend)

	if v, ok := nonEmpty(lookup, "CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}
	if err := getBool(lookup, "TRUST_PROXY", &c.TrustProxy); err != nil {
		return err
	}
	if err := getBool(lookup, "STRICT_HEADERS", &c.StrictHeaders); err != nil {
		return err
	}
	if err := getBool(lookup, "METRICS_ENABLED", &c.MetricsEnabled); err != nil {
		return err
	}
	if err := getDuration(lookup, "CLEANUP_INTERVAL", &c.CleanupInterval); err != nil {
		return err
	}
	return getDuration(lookup, "SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func getString(lookup LookupFunc, key string, dst *string) {
	if v, ok := nonEmpty(lookup, key); ok {
		*dst = v
	}
}

func getBool(lookup LookupFunc, key string, dst *bool) error {
	v, ok := nonEmpty(lookup, key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func getDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	v, ok := nonEmpty(lookup, key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// splitList splits a comma separated value and drops empty items.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
