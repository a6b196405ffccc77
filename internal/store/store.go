package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Table names shared with the external reply workflow.
const (
	SessionsTable = "n8n_chat_sessions"
	MessagesTable = "n8n_chat_messages"
)

// Store defines session and message persistence. PostgresStore,
// SQLiteStore and MemoryStore implement it.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, userEmail, sessionID string) (chat.Session, error)
	ListSessions(ctx context.Context, userEmail string) ([]chat.Session, error)

	// Message operations
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	GetMessage(ctx context.Context, id int64) (chat.Message, error)
	InsertMessage(ctx context.Context, sessionID string, payload chat.Payload) (chat.Message, error)
}

// InsertHook observes messages inserted through a store in this process.
type InsertHook func(chat.Message)
