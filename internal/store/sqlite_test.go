package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

func newSQLite(t *testing.T, hook store.InsertHook) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"), hook)
	if err != nil {
		t.Fatalf("NewSQLiteStore err: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteMessagesOrderedBySequence(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	for i, text := range texts {
		typ := chat.TypeHuman
		if i%2 == 1 {
			typ = chat.TypeAI
		}
		if _, err := s.InsertMessage(ctx, "s1", chat.Payload{Type: typ, Content: text}); err != nil {
			t.Fatalf("InsertMessage err: %v", err)
		}
	}
	if _, err := s.InsertMessage(ctx, "other", chat.Payload{Type: chat.TypeHuman, Text: "noise"}); err != nil {
		t.Fatalf("InsertMessage err: %v", err)
	}

	got, err := s.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("expected %d messages, got %d", len(texts), len(got))
	}
	for i, msg := range got {
		if msg.Message.Body() != texts[i] {
			t.Fatalf("position %d: got %q want %q", i, msg.Message.Body(), texts[i])
		}
		if i > 0 && msg.ID <= got[i-1].ID {
			t.Fatalf("ids not increasing: %d after %d", msg.ID, got[i-1].ID)
		}
	}
}

func TestSQLiteSessionsNewestFirst(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateSession(ctx, "a@b.com", id); err != nil {
			t.Fatalf("CreateSession err: %v", err)
		}
	}
	if _, err := s.CreateSession(ctx, "x@y.com", "z"); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	sessions, err := s.ListSessions(ctx, "a@b.com")
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "c" || sessions[2].SessionID != "a" {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}

func TestSQLiteDuplicateSessionRejected(t *testing.T) {
	s := newSQLite(t, nil)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "a@b.com", "dup"); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := s.CreateSession(ctx, "a@b.com", "dup"); err == nil {
		t.Fatal("expected unique violation for duplicate session id")
	}
}

func TestSQLiteInsertHookAndGetMessage(t *testing.T) {
	var seen []chat.Message
	s := newSQLite(t, func(m chat.Message) { seen = append(seen, m) })
	ctx := context.Background()

	msg, err := s.InsertMessage(ctx, "s1", chat.Payload{Type: chat.TypeAI, Text: "hello"})
	if err != nil {
		t.Fatalf("InsertMessage err: %v", err)
	}
	if len(seen) != 1 || seen[0].ID != msg.ID {
		t.Fatalf("hook not invoked with inserted row: %+v", seen)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage err: %v", err)
	}
	if got.Message.Body() != "hello" {
		t.Fatalf("unexpected body %q", got.Message.Body())
	}

	if _, err := s.GetMessage(ctx, msg.ID+100); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
