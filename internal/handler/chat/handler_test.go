package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chatservice "github.com/zhouzirui/webhook-chat/backend/internal/service/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/webhook"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

func setupRouter(t *testing.T, upstream http.HandlerFunc) (*chi.Mux, *store.MemoryStore) {
	t.Helper()
	wf := httptest.NewServer(upstream)
	t.Cleanup(wf.Close)

	sessions := store.NewMemoryStore(nil)
	gateway := webhook.New(webhook.Config{URL: wf.URL}, nil, zerolog.Nop())
	svc := chatservice.NewService(sessions, gateway, chatservice.Options{}, zerolog.Nop())

	r := chi.NewRouter()
	New(svc, zerolog.Nop()).RegisterRoutes(r)
	return r, sessions
}

func postChat(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestChatNewSessionMintsID(t *testing.T) {
	r, sessions := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"output":"hey"}]`))
	})

	resp := postChat(r, `{"message":"hi","sessionId":null,"userEmail":"a@b.com","isNewChat":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID == "" || out.Reply != "hey" {
		t.Fatalf("unexpected response %+v", out)
	}
	if sessions.SessionCount() != 1 {
		t.Fatalf("expected one session row, got %d", sessions.SessionCount())
	}
}

func TestChatUpstreamFailureIsGeneric(t *testing.T) {
	r, _ := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "workflow exploded", http.StatusInternalServerError)
	})

	resp := postChat(r, `{"message":"hi","sessionId":"s1","userEmail":"a@b.com","isNewChat":false}`)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	var out map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out["error"] != "Failed to get response" {
		t.Fatalf("expected generic error, got %v", out)
	}
	if _, ok := out["reply"]; ok {
		t.Fatal("no reply should be fabricated on failure")
	}
}

func TestChatEmptyArrayFallback(t *testing.T) {
	r, _ := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	resp := postChat(r, `{"message":"hi","sessionId":"s1","userEmail":"a@b.com","isNewChat":false}`)
	var out chatResponse
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Reply != "No response received" || out.SessionID != "s1" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestChatInvalidBody(t *testing.T) {
	r, _ := setupRouter(t, func(http.ResponseWriter, *http.Request) {})
	if resp := postChat(r, `{not json`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	r, sessions := setupRouter(t, func(http.ResponseWriter, *http.Request) {})
	resp := postChat(r, `{"message":"","userEmail":"a@b.com","isNewChat":true}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if sessions.SessionCount() != 0 {
		t.Fatal("no session should be minted for an empty message")
	}
}
