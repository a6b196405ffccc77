package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// MemoryStore keeps sessions and messages in process memory. Useful for
// development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []chat.Session
	messages []chat.Message
	nextSess int64
	nextMsg  int64
	onInsert InsertHook
	now      func() time.Time
}

// NewMemoryStore creates an empty store. onInsert may be nil.
func NewMemoryStore(onInsert InsertHook) *MemoryStore {
	return &MemoryStore{
		onInsert: onInsert,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// CreateSession appends a session row.
func (s *MemoryStore) CreateSession(_ context.Context, userEmail, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSess++
	session := chat.Session{
		ID:        s.nextSess,
		SessionID: sessionID,
		UserEmail: userEmail,
		CreatedAt: s.now(),
	}
	s.sessions = append(s.sessions, session)
	return session, nil
}

// ListSessions returns the user's sessions newest-first.
func (s *MemoryStore) ListSessions(_ context.Context, userEmail string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.UserEmail == userEmail {
			out = append(out, session)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SessionCount reports how many session rows exist.
func (s *MemoryStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ListMessages returns a session's messages in insertion order.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, 0)
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// GetMessage looks up a message by sequence id.
func (s *MemoryStore) GetMessage(_ context.Context, id int64) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return chat.Message{}, ErrNotFound
}

// InsertMessage appends a message and notifies the insert hook.
func (s *MemoryStore) InsertMessage(_ context.Context, sessionID string, payload chat.Payload) (chat.Message, error) {
	s.mu.Lock()
	s.nextMsg++
	msg := chat.Message{ID: s.nextMsg, SessionID: sessionID, Message: payload}
	s.messages = append(s.messages, msg)
	hook := s.onInsert
	s.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return msg, nil
}
