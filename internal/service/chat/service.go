package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/metrics"
	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

var (
	ErrMessageRequired = errors.New("message is required")
	ErrSessionPersist  = errors.New("failed to persist session")
	ErrReply           = errors.New("failed to get reply")
)

// SessionWriter persists new session rows.
type SessionWriter interface {
	CreateSession(ctx context.Context, userEmail, sessionID string) (chat.Session, error)
}

// Forwarder sends a turn to the reply workflow.
type Forwarder interface {
	Forward(ctx context.Context, message, sessionID string) (string, error)
}

// Options tunes the orchestrator.
type Options struct {
	// FailOpen lets a turn continue when the session insert fails.
	FailOpen bool
	// NewID mints session identifiers; defaults to uuid.NewString.
	NewID func() string
}

// Service orchestrates a chat turn: ensure the session, then forward.
type Service struct {
	sessions SessionWriter
	webhook  Forwarder
	opts     Options
	logger   zerolog.Logger
}

// NewService wires the orchestrator.
func NewService(sessions SessionWriter, webhook Forwarder, opts Options, logger zerolog.Logger) *Service {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		sessions: sessions,
		webhook:  webhook,
		opts:     opts,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// TurnRequest is one user message.
type TurnRequest struct {
	Message   string
	SessionID string
	UserEmail string
	IsNewChat bool
}

// TurnResult carries the reply and the session the turn ran under.
type TurnResult struct {
	Reply     string
	SessionID string
	Created   bool
}

// EnsureSession returns the session id for a turn, minting and persisting
// one when this is the first message of a new chat. A supplied id passes
// through without an existence check.
func (s *Service) EnsureSession(ctx context.Context, userEmail, sessionID string, isNewChat bool) (string, bool, error) {
	if sessionID != "" {
		return sessionID, false, nil
	}
	if !isNewChat {
		s.logger.Warn().Str("user_email", userEmail).Msg("turn without session id and not marked new")
		return "", false, nil
	}

	sessionID = s.opts.NewID()
	if _, err := s.sessions.CreateSession(ctx, userEmail, sessionID); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Str("user_email", userEmail).Msg("session insert failed")
		if !s.opts.FailOpen {
			return "", false, fmt.Errorf("%w: %v", ErrSessionPersist, err)
		}
		return sessionID, true, nil
	}

	metrics.SessionsCreated.Inc()
	return sessionID, true, nil
}

// Turn ensures the session and forwards the message. A session minted by
// a turn whose webhook call fails is not rolled back.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, ErrMessageRequired
	}

	sessionID, created, err := s.EnsureSession(ctx, req.UserEmail, req.SessionID, req.IsNewChat)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("session_error").Inc()
		return TurnResult{}, err
	}

	reply, err := s.webhook.Forward(ctx, req.Message, sessionID)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("webhook_error").Inc()
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("webhook forward failed")
		return TurnResult{SessionID: sessionID, Created: created}, fmt.Errorf("%w: %v", ErrReply, err)
	}

	metrics.ChatTurns.WithLabelValues("ok").Inc()
	return TurnResult{Reply: reply, SessionID: sessionID, Created: created}, nil
}
