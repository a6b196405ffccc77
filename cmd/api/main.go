package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/webhook-chat/backend/internal/config"
	"github.com/zhouzirui/webhook-chat/backend/internal/handler"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/webhook"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg)
	log.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	hub := feed.NewHub(cfg.Feed.Buffer, logger)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("connected to Redis")
	}

	// In-process inserts (SQLite / memory) are announced through the
	// configured feed: directly to the hub, or via Redis for other nodes.
	var onInsert store.InsertHook
	switch cfg.Feed.Driver {
	case config.FeedDriverMemory:
		onInsert = hub.Publish
	case config.FeedDriverRedis:
		onInsert = feed.NewRedisPublisher(rdb, logger).Hook(ctx)
	}

	db, source := openStore(ctx, cfg, logger, onInsert)
	defer db.Close()

	switch cfg.Feed.Driver {
	case config.FeedDriverRedis:
		source = feed.NewRedisSource(rdb, logger)
	case config.FeedDriverMemory:
		source = nil
	}
	for _, w := range cfg.FeedWarnings() {
		logger.Warn().Str("feed_driver", cfg.Feed.Driver).Msg(w)
	}
	go hub.Run(ctx, source)

	if cfg.Webhook.URL == "" {
		logger.Warn().Msg("N8N_WEBHOOK_URL not set, chat turns will fail")
	}
	gateway := webhook.New(webhook.Config{
		URL:     cfg.Webhook.URL,
		Timeout: cfg.Webhook.Timeout,
		Retries: cfg.Webhook.Retries,
	}, nil, logger)

	chatSvc := chat.NewService(db, gateway, chat.Options{FailOpen: cfg.Chat.FailOpen()}, logger)
	logger.Info().Str("policy", cfg.Chat.PersistPolicy).Str("feed", cfg.Feed.Driver).Msg("chat orchestrator ready")

	router := handler.NewRouter(handler.Deps{
		Logger:         logger,
		Store:          db,
		Chat:           chatSvc,
		Hub:            hub,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	startServer(ctx, logger, cfg.Server, router)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Server.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(cfg.Log.Level)
}

// openStore picks Postgres, SQLite or memory and returns the matching
// Postgres feed source when one applies.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, onInsert store.InsertHook) (store.Store, feed.Source) {
	switch {
	case cfg.Database.URL != "":
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.Database.URL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}

		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg, feed.NewPostgresSource(pg.Pool().Config().ConnConfig, pg, logger)

	case cfg.Database.SQLitePath != "":
		lite, err := store.NewSQLiteStore(ctx, cfg.Database.SQLitePath, onInsert)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.Database.SQLitePath).Msg("opened SQLite store")
		return lite, nil

	default:
		logger.Warn().Msg("no database configured, using in-memory store")
		return store.NewMemoryStore(onInsert), nil
	}
}

func startServer(ctx context.Context, logger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Str("env", serverCfg.Env).Msg("chat backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
