package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseEnv(overrides map[string]string) map[string]string {
	environ := map[string]string{"DATABASE_URL": "postgres://localhost/test"}
	for k, v := range overrides {
		environ[k] = v
	}
	return environ
}

func TestParse_RequiredDatabaseURL(t *testing.T) {
	if _, err := Parse(map[string]string{}); err == nil {
		t.Fatal("Parse() should fail when DATABASE_URL is unset")
	}
	if _, err := Parse(map[string]string{"DATABASE_URL": "   "}); err == nil {
		t.Fatal("Parse() should fail when DATABASE_URL is blank")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(baseEnv(nil))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q %q, want :8080 :9090", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log = %q %q, want info json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AuthRateLimit != 10 {
		t.Errorf("AuthRateLimit = %d, want 10", cfg.AuthRateLimit)
	}
	if cfg.MaxJSONBodySize != 1<<20 {
		t.Errorf("MaxJSONBodySize = %d, want %d", cfg.MaxJSONBodySize, 1<<20)
	}
	if cfg.MigrateOnStart {
		t.Error("MigrateOnStart should default to false")
	}
	if !cfg.Usage.TrackingEnabled || cfg.Usage.QueueSize != 1024 || cfg.Usage.Workers != 2 || cfg.Usage.RecordTimeout != 2*time.Second {
		t.Errorf("Usage = %+v", cfg.Usage)
	}
	if len(cfg.Usage.Sinks) != 1 || !cfg.Usage.UsesSink(SinkPostgres) || cfg.Usage.UsesSink(SinkRedis) {
		t.Errorf("Usage.Sinks = %v, want [postgres]", cfg.Usage.Sinks)
	}
	if cfg.Redis.UsageStream != "feature_usage" || cfg.Redis.UsageStreamMaxLen != 100000 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.ServiceName != "rollout" || cfg.Tracing.SampleRatio != 1 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Location() = %v, %v, want time.Local", loc, err)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(baseEnv(map[string]string{
		"ENVIRONMENT":                 "staging",
		"LOG_LEVEL":                   "debug",
		"LOG_FORMAT":                  "TEXT",
		"LOCAL_TIME_ZONE":             "Europe/Berlin",
		"MIGRATE_ON_START":            "true",
		"USAGE_SINKS":                 "postgres, Redis ,postgres",
		"USAGE_RECORD_TIMEOUT":        "500ms",
		"REDIS_URL":                   "redis://localhost:6379/0",
		"REDIS_USAGE_STREAM":          "usage",
		"OTEL_EXPORTER_OTLP_ENDPOINT": " http://collector:4318 ",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Environment != "staging" || cfg.LogFormat != "text" || !cfg.MigrateOnStart {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.Usage.Sinks; len(got) != 2 || got[0] != SinkPostgres || got[1] != SinkRedis {
		t.Errorf("Usage.Sinks = %v, want [postgres redis]", got)
	}
	if cfg.Usage.RecordTimeout != 500*time.Millisecond {
		t.Errorf("RecordTimeout = %v, want 500ms", cfg.Usage.RecordTimeout)
	}
	if cfg.Tracing.Endpoint != "http://collector:4318" || cfg.Tracing.SampleRatio != 0.25 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("Location() = %v, %v, want Europe/Berlin", loc, err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		contains string
	}{
		{name: "blank environment", env: map[string]string{"ENVIRONMENT": "  "}, contains: "ENVIRONMENT"},
		{name: "log level", env: map[string]string{"LOG_LEVEL": "verbose"}, contains: "LOG_LEVEL"},
		{name: "log format", env: map[string]string{"LOG_FORMAT": "xml"}, contains: "LOG_FORMAT"},
		{name: "rate limit not a number", env: map[string]string{"AUTH_RATE_LIMIT": "lots"}, contains: "parse environment"},
		{name: "rate limit zero", env: map[string]string{"AUTH_RATE_LIMIT": "0"}, contains: "AUTH_RATE_LIMIT"},
		{name: "body size negative", env: map[string]string{"MAX_JSON_BODY_SIZE": "-1"}, contains: "MAX_JSON_BODY_SIZE"},
		{name: "time zone", env: map[string]string{"LOCAL_TIME_ZONE": "Mars/Olympus"}, contains: "LOCAL_TIME_ZONE"},
		{name: "queue size", env: map[string]string{"USAGE_QUEUE_SIZE": "0"}, contains: "USAGE_QUEUE_SIZE"},
		{name: "workers", env: map[string]string{"USAGE_WORKERS": "-2"}, contains: "USAGE_WORKERS"},
		{name: "record timeout", env: map[string]string{"USAGE_RECORD_TIMEOUT": "0s"}, contains: "USAGE_RECORD_TIMEOUT"},
		{name: "unknown sink", env: map[string]string{"USAGE_SINKS": "postgres,kafka"}, contains: "kafka"},
		{name: "no sinks", env: map[string]string{"USAGE_SINKS": " , "}, contains: "USAGE_SINKS"},
		{name: "redis without url", env: map[string]string{"USAGE_SINKS": "redis"}, contains: "REDIS_URL"},
		{name: "redis maxlen", env: map[string]string{"USAGE_SINKS": "redis", "REDIS_URL": "redis://x", "REDIS_USAGE_STREAM_MAXLEN": "0"}, contains: "REDIS_USAGE_STREAM_MAXLEN"},
		{name: "sample ratio", env: map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, contains: "OTEL_TRACES_SAMPLER_ARG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(baseEnv(tt.env))
			if err == nil {
				t.Fatal("Parse() error = nil, want an error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("Parse() error = %q, want it to mention %q", err, tt.contains)
			}
		})
	}
}

func TestParse_TrackingDisabledAllowsNoSinks(t *testing.T) {
	cfg, err := Parse(baseEnv(map[string]string{"USAGE_TRACKING_ENABLED": "false", "USAGE_SINKS": ""}))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Usage.TrackingEnabled {
		t.Fatal("TrackingEnabled = true, want false")
	}
}

func TestLoad_ReadsEnvFileWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "DATABASE_URL=postgres://from-file/db\nROLLOUT_TEST_FILE_ONLY=1\nENVIRONMENT=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ENVIRONMENT", "from-process")
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
	t.Setenv("ROLLOUT_TEST_FILE_ONLY", "")
	os.Unsetenv("ROLLOUT_TEST_FILE_ONLY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://from-file/db" {
		t.Errorf("DatabaseURL = %q, want the file value", cfg.DatabaseURL)
	}
	if cfg.Environment != "from-process" {
		t.Errorf("Environment = %q, want the process value to win", cfg.Environment)
	}
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Load() error = %v, want nil for a missing file", err)
	}
}
