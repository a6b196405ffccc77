package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	chatService "github.com/zhouzirui/webhook-chat/backend/internal/service/chat"
	feedService "github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/webhook"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *feedService.Hub) {
	t.Helper()
	mem := store.NewMemoryStore(nil)
	hub := feedService.NewHub(8, zerolog.Nop())
	gateway := webhook.New(webhook.Config{URL: "http://127.0.0.1:0"}, nil, zerolog.Nop())
	svc := chatService.NewService(mem, gateway, chatService.Options{}, zerolog.Nop())

	return NewRouter(Deps{
		Logger:         zerolog.Nop(),
		Store:          mem,
		Chat:           svc,
		Hub:            hub,
		AllowedOrigins: []string{"*"},
	}), hub
}

func TestRoutesMountedUnderAPI(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/messages?sessionId=", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from messages route, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/sessions?email=a@b.com", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from sessions route, got %d", resp.Code)
	}
}

func TestHealthReflectsFeedState(t *testing.T) {
	r, hub := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before feed runs, got %d", resp.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, nil)

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Live() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 once feed is live, got %d", resp.Code)
	}
}
