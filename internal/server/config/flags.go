package config

import (
	"flag"
	"io"
	"time"
)

// flagValues holds only the flags that were given on the command line.
//
// Supported flags:
//
//	-c, -config string   JSON config file
//	-env string          development, staging or production
//	-a string            HTTP listen address (e.g. ":8000")
//	-d string            database URL
//	-driver string       sqlite or postgres
//	-r string            redis URL
//	-rate string         rate limit backend: memory, redis or off
//	-log-level string    debug, info, warn or error
//	-cleanup duration    session cleanup interval
type flagValues struct {
	configPath      string
	environment     *string
	httpAddr        *string
	databaseURL     *string
	databaseDriver  *string
	redisURL        *string
	rateLimit       *string
	logLevel        *string
	cleanupInterval *time.Duration
}

func parseFlags(args []string) (*flagValues, error) {
	fs := flag.NewFlagSet("andyweb", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		out      flagValues
		env      string
		addr     string
		dbURL    string
		driver   string
		redisURL string
		rate     string
		level    string
		cleanup  time.Duration
	)
	fs.StringVar(&out.configPath, "config", "", "path to JSON config file")
	fs.StringVar(&out.configPath, "c", "", "path to JSON config file (short)")
	fs.StringVar(&env, "env", "", "environment preset")
	fs.StringVar(&addr, "a", "", "address and port to run server")
	fs.StringVar(&dbURL, "d", "", "database URL")
	fs.StringVar(&driver, "driver", "", "database driver")
	fs.StringVar(&redisURL, "r", "", "redis URL")
	fs.StringVar(&rate, "rate", "", "rate limit backend")
	fs.StringVar(&level, "log-level", "", "log level")
	fs.DurationVar(&cleanup, "cleanup", 0, "session cleanup interval")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "env":
			out.environment = &env
		case "a":
			out.httpAddr = &addr
		case "d":
			out.databaseURL = &dbURL
		case "driver":
			out.databaseDriver = &driver
		case "r":
			out.redisURL = &redisURL
		case "rate":
			out.rateLimit = &rate
		case "log-level":
			out.logLevel = &level
		case "cleanup":
			out.cleanupInterval = &cleanup
		}
	})
	return &out, nil
}

func (f *flagValues) apply(c *Config) {
	setString(&c.HTTPAddr, f.httpAddr)
	setString(&c.DatabaseURL, f.databaseURL)
	setString(&c.DatabaseDriver, f.databaseDriver)
	setString(&c.RedisURL, f.redisURL)
	setString(&c.RateLimitBackend, f.rateLimit)
	setString(&c.LogLevel, f.logLevel)
	if f.cleanupInterval != nil {
		c.CleanupInterval = *f.cleanupInterval
	}
}
