package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var configEnv = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL",
	"FEED_DRIVER", "FEED_BUFFER", "N8N_WEBHOOK_URL", "WEBHOOK_TIMEOUT",
	"WEBHOOK_RETRIES", "SESSION_PERSIST_POLICY", "CORS_ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || !cfg.Server.IsDevelopment() {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Level != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", cfg.Log.Level)
	}
	if cfg.Feed.Driver != FeedDriverMemory || cfg.Feed.Buffer != 32 {
		t.Fatalf("unexpected feed config: %+v", cfg.Feed)
	}
	if cfg.Webhook.Timeout != 120*time.Second || cfg.Webhook.Retries != 0 {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if cfg.Chat.FailOpen() {
		t.Fatal("session persistence should default to fail-closed")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadFeedDriverFollowsBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.Driver != FeedDriverRedis {
		t.Fatalf("expected redis driver, got %s", cfg.Feed.Driver)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/chat")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Feed.Driver != FeedDriverPostgres {
		t.Fatalf("expected postgres driver, got %s", cfg.Feed.Driver)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WEBHOOK_TIMEOUT", "30")
	t.Setenv("WEBHOOK_RETRIES", "1")
	t.Setenv("SESSION_PERSIST_POLICY", "fail-open")
	t.Setenv("FEED_BUFFER", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.Log.Level)
	}
	if cfg.Webhook.Timeout != 30*time.Second || cfg.Webhook.Retries != 1 {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}
	if !cfg.Chat.FailOpen() {
		t.Fatal("expected fail-open policy")
	}
	if cfg.Feed.Buffer != 1 {
		t.Fatalf("buffer should clamp to 1, got %d", cfg.Feed.Buffer)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.CORS.AllowedOrigins)
	}

	t.Setenv("WEBHOOK_TIMEOUT", "1m30s")
	if cfg, err = Load(); err != nil || cfg.Webhook.Timeout != 90*time.Second {
		t.Fatalf("expected 90s duration, got %v (%v)", cfg, err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":          {"PORT": "80 80"},
		"bad level":         {"LOG_LEVEL": "loud"},
		"bad driver":        {"FEED_DRIVER": "kafka"},
		"bad retries":       {"WEBHOOK_RETRIES": "3"},
		"bad timeout":       {"WEBHOOK_TIMEOUT": "soon"},
		"zero timeout":      {"WEBHOOK_TIMEOUT": "0"},
		"negative timeout":  {"WEBHOOK_TIMEOUT": "-5"},
		"negative duration": {"WEBHOOK_TIMEOUT": "-2s"},
		"bad policy":        {"SESSION_PERSIST_POLICY": "maybe"},
		"prod without db":   {"ENV": "production"},
		"redis without url": {"FEED_DRIVER": "redis"},
		"pg without url":    {"FEED_DRIVER": "postgres"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFeedWarningsFlagPartialCoverage(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	t.Setenv("FEED_DRIVER", "redis")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.FeedWarnings(); len(got) != 1 {
		t.Fatalf("expected a warning for redis feed over Postgres, got %v", got)
	}

	t.Setenv("FEED_DRIVER", "memory")
	if cfg, err = Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.FeedWarnings(); len(got) != 1 {
		t.Fatalf("expected a warning for memory feed over Postgres, got %v", got)
	}

	t.Setenv("FEED_DRIVER", "postgres")
	if cfg, err = Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.FeedWarnings(); len(got) != 0 {
		t.Fatalf("postgres feed should not warn, got %v", got)
	}

	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if cfg, err = Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.FeedWarnings(); len(got) != 0 {
		t.Fatalf("redis feed without Postgres should not warn, got %v", got)
	}
}
