package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for LISTEN connections.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSession inserts a session row.
func (s *PostgresStore) CreateSession(ctx context.Context, userEmail, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.pool.QueryRow(ctx, `
		INSERT INTO n8n_chat_sessions (user_email, session_id)
		VALUES ($1, $2)
		RETURNING id, session_id, user_email, created_at
	`, userEmail, sessionID).Scan(
		&session.ID,
		&session.SessionID,
		&session.UserEmail,
		&session.CreatedAt,
	)
	if err != nil {
		return chat.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// ListSessions returns a user's sessions newest-first.
func (s *PostgresStore) ListSessions(ctx context.Context, userEmail string) ([]chat.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, user_email, created_at
		FROM n8n_chat_sessions
		WHERE user_email = $1
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
func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, message
		FROM n8n_chat_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]chat.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessage retrieves a message by sequence id.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (chat.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, message FROM n8n_chat_messages WHERE id = $1
	`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Message{}, ErrNotFound
		}
		return chat.Message{}, err
	}
	return msg, nil
}

// InsertMessage writes a message row. The notify trigger announces it.
func (s *PostgresStore) InsertMessage(ctx context.Context, sessionID string, payload chat.Payload) (chat.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return chat.Message{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO n8n_chat_messages (session_id, message)
		VALUES ($1, $2)
		RETURNING id, session_id, message
	`, sessionID, data)
	msg, err := scanMessage(row)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		msg chat.Message
		raw []byte
	)
	if err := row.Scan(&msg.ID, &msg.SessionID, &raw); err != nil {
		return chat.Message{}, err
	}
	if err := json.Unmarshal(raw, &msg.Message); err != nil {
		return chat.Message{}, fmt.Errorf("message %d: %w", msg.ID, err)
	}
	return msg, nil
}
