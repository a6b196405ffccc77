// Command echoflow stands in for the external reply workflow during local
// development: it records the turn in the message table and echoes it.
//
// Point N8N_WEBHOOK_URL at http://localhost:5678/webhook/chat and share the
// backend's DATABASE_URL or SQLITE_PATH. With SQLite, set FEED_DRIVER=redis
// on both processes so inserts reach the backend's change feed.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/config"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

func main() {
	addr := flag.String("addr", ":5678", "监听地址")
	prefix := flag.String("prefix", "echo: ", "回复前缀")
	delay := flag.Duration("delay", 0, "模拟工作流耗时")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", "echoflow").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file, using system environment only")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onInsert store.InsertHook
	if cfg.Feed.Driver == config.FeedDriverRedis {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		onInsert = feed.NewRedisPublisher(rdb, logger).Hook(ctx)
	}

	var db store.Store
	switch {
	case cfg.Database.URL != "":
		if err := store.RunMigrations(ctx, cfg.Database.URL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		db, err = store.NewPostgresStore(ctx, cfg.Database.URL)
	case cfg.Database.SQLitePath != "":
		db, err = store.NewSQLiteStore(ctx, cfg.Database.SQLitePath, onInsert)
	default:
		err = errors.New("DATABASE_URL or SQLITE_PATH is required")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("store unavailable")
	}
	defer db.Close()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/webhook/chat", newWorkflow(db, *prefix, *delay, logger).ServeHTTP)

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Msg("echo workflow listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
