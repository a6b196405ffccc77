package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
)

// NotifyChannel is the channel the insert trigger notifies on.
const NotifyChannel = "chat_messages"

// MessageFetcher loads a row announced by a notification.
type MessageFetcher interface {
	GetMessage(ctx context.Context, id int64) (chat.Message, error)
}

// PostgresSource listens for insert notifications on a dedicated
// connection and fetches each announced row.
type PostgresSource struct {
	connConfig *pgx.ConnConfig
	fetcher    MessageFetcher
	logger     zerolog.Logger
}

// NewPostgresSource creates a source. connConfig is copied per Listen.
func NewPostgresSource(connConfig *pgx.ConnConfig, fetcher MessageFetcher, logger zerolog.Logger) *PostgresSource {
	return &PostgresSource{
		connConfig: connConfig,
		fetcher:    fetcher,
		logger:     logger.With().Str("source", "postgres").Logger(),
	}
}

type notification struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
}

// Listen implements Source.
func (s *PostgresSource) Listen(ctx context.Context, ready func(), emit func(chat.Message)) error {
	conn, err := pgx.ConnectConfig(ctx, s.connConfig.Copy())
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	ready()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		if err := s.handleNotification(ctx, n.Payload, emit); err != nil {
			return err
		}
	}
}

// handleNotification fetches and emits the row a payload announces.
// Malformed payloads and rows that vanished are skipped; any other fetch
// error ends the subscription.
func (s *PostgresSource) handleNotification(ctx context.Context, payload string, emit func(chat.Message)) error {
	var note notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		s.logger.Warn().Err(err).Str("payload", payload).Msg("ignoring malformed notification")
		return nil
	}

	msg, err := s.fetcher.GetMessage(ctx, note.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Int64("id", note.ID).Msg("notified row not found")
			return nil
		}
		return fmt.Errorf("fetch message %d: %w", note.ID, err)
	}
	emit(msg)
	return nil
}
