package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Feed     FeedConfig
	Webhook  WebhookConfig
	Chat     ChatConfig
	CORS     CORSConfig
}

// Load 从环境变量加载配置。调用方负责事先加载 .env 文件。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	webhook, err := loadWebhookConfig()
	if err != nil {
		return nil, err
	}

	feed, err := loadFeedConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: server,
		Log:    logCfg,
		Database: DatabaseConfig{
			URL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
			SQLitePath: strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		},
		Redis:   RedisConfig{URL: strings.TrimSpace(os.Getenv("REDIS_URL"))},
		Feed:    feed,
		Webhook: webhook,
		Chat:    chat,
		CORS:    CORSConfig{AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Env == "production" && c.Database.URL == "" {
		return errors.New("DATABASE_URL is required in production")
	}
	if c.Feed.Driver == FeedDriverPostgres && c.Database.URL == "" {
		return errors.New("FEED_DRIVER=postgres requires DATABASE_URL")
	}
	if c.Feed.Driver == FeedDriverRedis && c.Redis.URL == "" {
		return errors.New("FEED_DRIVER=redis requires REDIS_URL")
	}
	return nil
}

// FeedWarnings lists feed/store combinations that load but can miss rows.
// With a Postgres store, rows the workflow inserts directly are only seen
// through the Postgres feed; the other drivers hear in-process inserts only.
func (c *Config) FeedWarnings() []string {
	if c.Database.URL == "" {
		return nil
	}
	switch c.Feed.Driver {
	case FeedDriverRedis:
		return []string{"redis feed with Postgres store only sees inserts made through this API; rows written by the workflow arrive on reload"}
	case FeedDriverMemory:
		return []string{"memory feed with Postgres store only sees inserts made by this process"}
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	Env  string
}

// IsDevelopment reports whether the service runs with developer defaults.
func (c ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	env := getEnvOrDefault("ENV", "development")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Env: env}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Env: env}, nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level zerolog.Level
}

func loadLogConfig() (LogConfig, error) {
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return LogConfig{Level: level}, nil
}

// DatabaseConfig selects the relational backend. URL wins over SQLitePath.
type DatabaseConfig struct {
	URL        string
	SQLitePath string
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	URL string
}

// Feed drivers.
const (
	FeedDriverPostgres = "postgres"
	FeedDriverRedis    = "redis"
	FeedDriverMemory   = "memory"
)

// FeedConfig 描述消息变更推送的来源。
type FeedConfig struct {
	Driver string
	Buffer int
}

func loadFeedConfig() (FeedConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("FEED_DRIVER")))
	if driver == "" {
		switch {
		case strings.TrimSpace(os.Getenv("DATABASE_URL")) != "":
			driver = FeedDriverPostgres
		case strings.TrimSpace(os.Getenv("REDIS_URL")) != "":
			driver = FeedDriverRedis
		default:
			driver = FeedDriverMemory
		}
	}

	switch driver {
	case FeedDriverPostgres, FeedDriverRedis, FeedDriverMemory:
	default:
		return FeedConfig{}, fmt.Errorf("invalid FEED_DRIVER value %q", driver)
	}

	buffer := 32
	if override, err := parseOptionalIntEnv("FEED_BUFFER"); err != nil {
		return FeedConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return FeedConfig{Driver: driver, Buffer: buffer}, nil
}

// WebhookConfig 描述外部工作流 webhook。
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
}

func loadWebhookConfig() (WebhookConfig, error) {
	timeout, err := parseDurationEnv("WEBHOOK_TIMEOUT", 120*time.Second)
	if err != nil {
		return WebhookConfig{}, err
	}

	retries := 0
	if override, err := parseOptionalIntEnv("WEBHOOK_RETRIES"); err != nil {
		return WebhookConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return WebhookConfig{}, fmt.Errorf("invalid WEBHOOK_RETRIES value %d: must be 0 or 1", *override)
		}
		retries = *override
	}

	return WebhookConfig{
		URL:     strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL")),
		Timeout: timeout,
		Retries: retries,
	}, nil
}

// Session persistence policies.
const (
	PersistFailClosed = "fail-closed"
	PersistFailOpen   = "fail-open"
)

// ChatConfig 描述会话编排策略。
type ChatConfig struct {
	PersistPolicy string
}

// FailOpen reports whether a failed session insert lets the turn continue.
func (c ChatConfig) FailOpen() bool {
	return c.PersistPolicy == PersistFailOpen
}

func loadChatConfig() (ChatConfig, error) {
	policy := strings.ToLower(getEnvOrDefault("SESSION_PERSIST_POLICY", PersistFailClosed))
	if policy != PersistFailClosed && policy != PersistFailOpen {
		return ChatConfig{}, fmt.Errorf("invalid SESSION_PERSIST_POLICY value %q", policy)
	}
	return ChatConfig{PersistPolicy: policy}, nil
}

// CORSConfig 描述跨域配置。
type CORSConfig struct {
	AllowedOrigins []string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
