// Command apitester walks through the chat API by hand: session create and
// list, one chat turn, then the stored history and live feed for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/webhook"
	"github.com/zhouzirui/webhook-chat/backend/pkg/chatclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "后端地址")
	email := flag.String("email", "test@example.com", "测试邮箱")
	message := flag.String("message", "Hello, this is a test message", "发送的测试消息")
	watch := flag.Duration("watch", 5*time.Second, "发送后监听变更推送的时长，0 表示跳过")
	timeout := flag.Duration("timeout", 3*time.Minute, "整体超时时间")
	webhookURL := flag.String("webhook", "", "直接探测工作流 webhook 地址，跳过后端接口")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *webhookURL != "" {
		if err := checkWebhook(ctx, *webhookURL, *message, logger); err != nil {
			logger.Fatal().Err(err).Msg("webhook check failed")
		}
		return
	}

	api := chatclient.NewAPI(*server, nil)
	if err := run(ctx, api, *email, *message, *watch, logger); err != nil {
		logger.Fatal().Err(err).Msg("api test failed")
	}
	logger.Info().Msg("all checks passed")
}

func run(ctx context.Context, api *chatclient.API, email, message string, watch time.Duration, logger zerolog.Logger) error {
	// 1. 直接创建会话
	manual := uuid.NewString()
	if err := api.CreateSession(ctx, email, manual); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logger.Info().Str("session_id", manual).Msg("POST /api/sessions ok")

	// 2. 缺少字段应返回 400
	var apiErr *chatclient.APIError
	if err := api.CreateSession(ctx, "", ""); !errors.As(err, &apiErr) || apiErr.Status != 400 {
		return fmt.Errorf("create session without fields: expected 400, got %v", err)
	}
	logger.Info().Msg("POST /api/sessions validation ok")

	// 3. 列出会话
	sessions, err := api.ListSessions(ctx, email)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	logger.Info().Int("count", len(sessions)).Msg("GET /api/sessions ok")
	for _, s := range sessions {
		logger.Debug().Str("label", s.ShortLabel()).Time("created_at", s.CreatedAt).Msg("session")
	}

	// 4. 新对话发送消息
	started := time.Now()
	resp, err := api.Chat(ctx, chatclient.ChatRequest{Message: message, UserEmail: email, IsNewChat: true})
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	logger.Info().
		Str("session_id", resp.SessionID).
		Str("reply", resp.Reply).
		Dur("latency", time.Since(started)).
		Msg("POST /api/chat ok")

	// 5. 会话历史
	history, err := api.ListMessages(ctx, resp.SessionID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	for _, m := range history {
		e := chat.Project(m)
		logger.Info().Int64("id", m.ID).Str("role", e.Role).Str("content", e.Content).Msg("message")
	}

	if watch <= 0 {
		return nil
	}
	return watchFeed(ctx, api.BaseURL(), resp.SessionID, watch, logger)
}

// checkWebhook posts one turn straight to the workflow, as the backend would.
func checkWebhook(ctx context.Context, url, message string, logger zerolog.Logger) error {
	gw := webhook.New(webhook.Config{URL: url}, nil, logger)
	sessionID := "check-" + uuid.NewString()[:8]

	started := time.Now()
	reply, err := gw.Forward(ctx, message, sessionID)
	if err != nil {
		return err
	}
	logger.Info().Str("session_id", sessionID).Str("reply", reply).Dur("latency", time.Since(started)).Msg("webhook ok")
	return nil
}

func watchFeed(ctx context.Context, baseURL, sessionID string, d time.Duration, logger zerolog.Logger) error {
	feed, err := chatclient.NewWSFeed(baseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	sub, err := feed.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("subscribe feed: %w", err)
	}
	defer sub.Close()
	logger.Info().Str("session_id", sessionID).Dur("for", d).Msg("watching change feed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sub.Events():
			if !ok {
				logger.Warn().Msg("feed closed by server")
				return nil
			}
			logger.Info().Int64("id", m.ID).Str("type", m.Message.Type).Str("body", m.Message.Body()).Msg("live message")
		}
	}
}
