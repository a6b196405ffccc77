package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db       *sql.DB
	onInsert InsertHook
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db". onInsert may be nil.
func NewSQLiteStore(ctx context.Context, dbPath string, onInsert InsertHook) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, onInsert: onInsert}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS n8n_chat_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		user_email TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS n8n_chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_email ON n8n_chat_sessions(user_email, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session_id ON n8n_chat_messages(session_id, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, userEmail, sessionID string) (chat.Session, error) {
	createdAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO n8n_chat_sessions (session_id, user_email, created_at) VALUES (?, ?, ?)
	`, sessionID, userEmail, createdAt)
	if err != nil {
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return chat.Session{}, err
	}
	return chat.Session{ID: id, SessionID: sessionID, UserEmail: userEmail, CreatedAt: createdAt}, nil
}

// ListSessions returns a user's sessions newest-first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userEmail string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_email, created_at
		FROM n8n_chat_sessions
		WHERE user_email = ?
		ORDER BY created_at DESC, id DESC
	`, userEmail)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0)
	for rows.Next() {
		var session chat.Session
		if err := rows.Scan(&session.ID, &session.SessionID, &session.UserEmail, &session.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListMessages returns a session's messages ordered by sequence.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, message FROM n8n_chat_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessage retrieves a message by sequence id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, message FROM n8n_chat_messages WHERE id = ?
	`, id)
	msg, err := scanSQLiteMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Message{}, ErrNotFound
		}
		return chat.Message{}, err
	}
	return msg, nil
}

// InsertMessage writes a message row and notifies the insert hook.
func (s *SQLiteStore) InsertMessage(ctx context.Context, sessionID string, payload chat.Payload) (chat.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return chat.Message{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO n8n_chat_messages (session_id, message) VALUES (?, ?)
	`, sessionID, string(data))
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{ID: id, SessionID: sessionID, Message: payload}
	if s.onInsert != nil {
		s.onInsert(msg)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (chat.Message, error) {
	var (
		msg chat.Message
		raw string
	)
	if err := row.Scan(&msg.ID, &msg.SessionID, &raw); err != nil {
		return chat.Message{}, err
	}
	if err := json.Unmarshal([]byte(raw), &msg.Message); err != nil {
		return chat.Message{}, fmt.Errorf("message %d: %w", msg.ID, err)
	}
	return msg, nil
}
