package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// State of the change-feed synchronizer.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateTransitioning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateTransitioning:
		return "transitioning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errFeedClosed = errors.New("feed subscription closed")

// Loader fetches a session's full history, oldest first.
type Loader interface {
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Synchronizer keeps a Transcript equal to the ordered projection of a
// session's stored messages. It holds at most one feed subscription;
// switching sessions tears the old one down before the next is opened.
type Synchronizer struct {
	base       context.Context
	loader     Loader
	feed       Feed
	transcript *Transcript
	backoff    utils.Backoff
	logger     zerolog.Logger

	// opMu serializes Activate/Deactivate; stateMu guards state only and
	// is the only lock the run goroutine takes.
	opMu      sync.Mutex
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	stateMu sync.Mutex
	state   State
	onState func(sessionID string, st State)
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithBackoff overrides the resubscribe backoff.
func WithBackoff(b utils.Backoff) SyncOption {
	return func(s *Synchronizer) { s.backoff = b }
}

// WithStateHook observes state transitions.
func WithStateHook(fn func(sessionID string, st State)) SyncOption {
	return func(s *Synchronizer) { s.onState = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// NewSynchronizer creates an idle synchronizer. base bounds the lifetime
// of every subscription it opens.
func NewSynchronizer(base context.Context, loader Loader, feed Feed, transcript *Transcript, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		base:       base,
		loader:     loader,
		feed:       feed,
		transcript: transcript,
		backoff:    utils.DefaultBackoff,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// SessionID returns the active session, or "" when idle.
func (s *Synchronizer) SessionID() string {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.sessionID
}

// Activate switches to sessionID, discarding the current transcript.
func (s *Synchronizer) Activate(sessionID string) {
	s.activate(sessionID, false)
}

// Adopt switches to a session minted by the user's own pending turn,
// keeping optimistic entries so the incoming rows confirm them.
func (s *Synchronizer) Adopt(sessionID string) {
	s.activate(sessionID, true)
}

func (s *Synchronizer) activate(sessionID string, keepPending bool) {
	if sessionID == "" {
		s.Deactivate()
		return
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.sessionID == sessionID && s.cancel != nil {
		return
	}

	if s.cancel != nil {
		s.setState(s.sessionID, StateTransitioning)
		s.stopLocked()
	}

	s.transcript.Reset(keepPending)
	s.sessionID = sessionID
	s.setState(sessionID, StateLoading)

	ctx, cancel := context.WithCancel(s.base)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(ctx, sessionID, done)
}

// Deactivate tears down any subscription and clears the transcript.
func (s *Synchronizer) Deactivate() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopLocked()
	s.sessionID = ""
	s.transcript.Reset(false)
	s.setState("", StateIdle)
}

// stopLocked cancels the run goroutine and waits for it, so its
// subscription is closed before anything new is opened.
func (s *Synchronizer) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Synchronizer) setState(sessionID string, st State) {
	s.stateMu.Lock()
	s.state = st
	hook := s.onState
	s.stateMu.Unlock()

	if hook != nil {
		hook(sessionID, st)
	}
}

func (s *Synchronizer) run(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	log := s.logger.With().Str("session_id", sessionID).Logger()
	attempt := 0
	for {
		err := s.syncOnce(ctx, sessionID, func() { attempt = 0 })
		if ctx.Err() != nil {
			return
		}

		s.setState(sessionID, StateLoading)
		delay := s.backoff.Next(attempt)
		attempt++
		log.Warn().Err(err).Dur("retry_in", delay).Msg("feed lost, resyncing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// syncOnce subscribes first, then bulk-loads, then applies live events.
// Events arriving during the load wait in the subscription buffer; the
// transcript drops any row the load already applied.
func (s *Synchronizer) syncOnce(ctx context.Context, sessionID string, onLive func()) error {
	sub, err := s.feed.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}
	defer sub.Close()

	history, err := s.loader.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, msg := range history {
		s.transcript.Apply(msg)
	}

	s.setState(sessionID, StateLive)
	onLive()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Events():
			if !ok {
				return errFeedClosed
			}
			if msg.SessionID != sessionID {
				continue
			}
			s.transcript.Apply(msg)
		}
	}
}
