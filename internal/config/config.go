// Package config loads server configuration from environment variables and
// an optional .env file.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Everything else has a default; see the struct tags on [Config].
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/logging"
)

const (
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// Config holds the runtime configuration for the rollout server.
type Config struct {
	DatabaseURL     string  `env:"DATABASE_URL,required,notEmpty"`
	Environment     string  `env:"ENVIRONMENT" envDefault:"production"`
	HTTPAddr        string  `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string  `env:"GRPC_ADDR" envDefault:":9090"`
	LogLevel        string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string  `env:"LOG_FORMAT" envDefault:"json"`
	AuthRateLimit   int     `env:"AUTH_RATE_LIMIT" envDefault:"10"`
	MaxJSONBodySize int64   `env:"MAX_JSON_BODY_SIZE" envDefault:"1048576"`
	LocalTimeZone   string  `env:"LOCAL_TIME_ZONE"`
	MigrateOnStart  bool    `env:"MIGRATE_ON_START" envDefault:"false"`
	Usage           Usage   `envPrefix:"USAGE_"`
	Redis           Redis   `envPrefix:"REDIS_"`
	Tracing         Tracing `envPrefix:"OTEL_"`
}

// Usage configures feature usage tracking.
type Usage struct {
	TrackingEnabled bool          `env:"TRACKING_ENABLED" envDefault:"true"`
	Sinks           []string      `env:"SINKS" envDefault:"postgres" envSeparator:","`
	QueueSize       int           `env:"QUEUE_SIZE" envDefault:"1024"`
	Workers         int           `env:"WORKERS" envDefault:"2"`
	RecordTimeout   time.Duration `env:"RECORD_TIMEOUT" envDefault:"2s"`
}

// Redis configures the optional Redis stream usage sink.
type Redis struct {
	URL               string        `env:"URL"`
	UsageStream       string        `env:"USAGE_STREAM" envDefault:"feature_usage"`
	UsageStreamMaxLen int64         `env:"USAGE_STREAM_MAXLEN" envDefault:"100000"`
	RetryAttempts     int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval     time.Duration `env:"RETRY_INTERVAL" envDefault:"2s"`
}

// Tracing is read from the standard OpenTelemetry variables. Tracing stays
// off while Endpoint is empty.
type Tracing struct {
	Endpoint    string  `env:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"rollout"`
	SampleRatio float64 `env:"TRACES_SAMPLER_ARG" envDefault:"1"`
}

// UsesSink reports whether the named usage sink is configured.
func (u Usage) UsesSink(name string) bool {
	return slices.Contains(u.Sinks, name)
}

// Location resolves LocalTimeZone. An empty value means the host zone.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.LocalTimeZone) == "" {
		return time.Local, nil
	}
	return core.LoadTimeZone(c.LocalTimeZone)
}

// Load reads files (".env" when none are given) into the process
// environment without overriding variables that are already set, then
// parses and validates the configuration. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.Environment = strings.TrimSpace(c.Environment)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)

	sinks := make([]string, 0, len(c.Usage.Sinks))
	for _, sink := range c.Usage.Sinks {
		sink = strings.ToLower(strings.TrimSpace(sink))
		if sink != "" && !slices.Contains(sinks, sink) {
			sinks = append(sinks, sink)
		}
	}
	c.Usage.Sinks = sinks
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Environment == "" {
		return errors.New("ENVIRONMENT must not be empty")
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if _, ok := logging.ParseFormat(c.LogFormat); !ok {
		return fmt.Errorf("LOG_FORMAT %q is not one of json, text", c.LogFormat)
	}
	if c.AuthRateLimit <= 0 {
		return errors.New("AUTH_RATE_LIMIT must be > 0")
	}
	if c.MaxJSONBodySize <= 0 {
		return errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("LOCAL_TIME_ZONE: %w", err)
	}

	if c.Usage.QueueSize <= 0 {
		return errors.New("USAGE_QUEUE_SIZE must be > 0")
	}
	if c.Usage.Workers <= 0 {
		return errors.New("USAGE_WORKERS must be > 0")
	}
	if c.Usage.RecordTimeout <= 0 {
		return errors.New("USAGE_RECORD_TIMEOUT must be > 0")
	}
	for _, sink := range c.Usage.Sinks {
		if sink != SinkPostgres && sink != SinkRedis {
			return fmt.Errorf("USAGE_SINKS: unknown sink %q", sink)
		}
	}
	if c.Usage.TrackingEnabled && len(c.Usage.Sinks) == 0 {
		return errors.New("USAGE_SINKS must name at least one sink when tracking is enabled")
	}

	if c.Usage.UsesSink(SinkRedis) {
		if strings.TrimSpace(c.Redis.URL) == "" {
			return errors.New("REDIS_URL is required when the redis usage sink is enabled")
		}
		if c.Redis.UsageStream == "" {
			return errors.New("REDIS_USAGE_STREAM must not be empty")
		}
		if c.Redis.UsageStreamMaxLen <= 0 {
			return errors.New("REDIS_USAGE_STREAM_MAXLEN must be > 0")
		}
		if c.Redis.RetryAttempts <= 0 {
			return errors.New("REDIS_RETRY_ATTEMPTS must be > 0")
		}
	}

	if math.IsNaN(c.Tracing.SampleRatio) || c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	return nil
}
