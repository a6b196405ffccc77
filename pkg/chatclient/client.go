package chatclient

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

var (
	ErrTurnInFlight = errors.New("a reply is already in flight")
	ErrEmptyMessage = errors.New("message is empty")
	ErrSignedOut    = errors.New("signed out")
	ErrInvalidEmail = errors.New("invalid email")
)

// SessionContext is the signed-in identity. It is established at sign-in
// and torn down at sign-out; identity verification itself happens
// elsewhere.
type SessionContext struct {
	Email      string
	SignedInAt time.Time

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

// SignIn establishes a context for email.
func SignIn(email string) (*SessionContext, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	return &SessionContext{Email: email, SignedInAt: time.Now().UTC()}, nil
}

// Active reports whether the context has not been signed out.
func (c *SessionContext) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// SignOut tears the context down and runs registered teardown hooks.
func (c *SessionContext) SignOut() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

func (c *SessionContext) onSignOut(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// ReplyWait bounds how long a turn stays in flight after the chat endpoint
// answers while the assistant row has not reached the transcript.
const ReplyWait = 15 * time.Second

// ChangeFunc receives the transcript and in-flight flag after any change.
type ChangeFunc func(entries []chat.Entry, inFlight bool)

// Chat is the client-side controller for one signed-in user: it owns the
// transcript, the synchronizer and the one-turn-at-a-time send path.
//
// Source of truth: the user's own turn is appended optimistically; every
// assistant bubble comes from the change feed. The reply text returned by
// the chat endpoint is not rendered.
type Chat struct {
	api        *API
	ident      *SessionContext
	transcript *Transcript
	sync       *Synchronizer
	logger     zerolog.Logger

	replyWait time.Duration

	mu       sync.Mutex
	inFlight bool
	onChange []ChangeFunc
}

// New wires a controller. The returned Chat is torn down when ident
// signs out.
func New(ctx context.Context, ident *SessionContext, api *API, feed Feed, logger zerolog.Logger) *Chat {
	transcript := NewTranscript()
	c := &Chat{
		api:        api,
		ident:      ident,
		transcript: transcript,
		sync:       NewSynchronizer(ctx, api, feed, transcript, WithLogger(logger)),
		logger:     logger,
		replyWait:  ReplyWait,
	}
	transcript.Subscribe(func(entries []chat.Entry) {
		c.emit(entries)
	})
	ident.onSignOut(c.sync.Deactivate)
	return c
}

// Synchronizer exposes the feed state machine.
func (c *Chat) Synchronizer() *Synchronizer {
	return c.sync
}

// Transcript exposes the transcript store.
func (c *Chat) Transcript() *Transcript {
	return c.transcript
}

// OnChange registers a render callback.
func (c *Chat) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// InFlight reports whether a turn is awaiting its reply.
func (c *Chat) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// ActiveSession returns the selected session id, "" for a new chat.
func (c *Chat) ActiveSession() string {
	return c.sync.SessionID()
}

// Sessions lists the user's sessions newest-first.
func (c *Chat) Sessions(ctx context.Context) ([]chat.Session, error) {
	if !c.ident.Active() {
		return nil, ErrSignedOut
	}
	return c.api.ListSessions(ctx, c.ident.Email)
}

// Select opens an existing session.
func (c *Chat) Select(sessionID string) {
	c.sync.Activate(sessionID)
}

// NewChat returns to the empty new-conversation state.
func (c *Chat) NewChat() {
	c.sync.Deactivate()
}

// Send runs one turn. Only one turn may be in flight.
func (c *Chat) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.ident.Active() {
		return ErrSignedOut
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	defer c.setInFlight(false)

	sessionID := c.sync.SessionID()
	isNew := sessionID == ""

	c.transcript.AppendPending(text)

	req := ChatRequest{Message: text, UserEmail: c.ident.Email, IsNewChat: isNew}
	if !isNew {
		req.SessionID = &sessionID
	}

	resp, err := c.api.Chat(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("chat turn failed")
		c.transcript.AppendLocal(ErrorReply)
		return err
	}

	if isNew && resp.SessionID != "" {
		c.sync.Adopt(resp.SessionID)
	}
	c.awaitReply(ctx)
	return nil
}

// awaitReply keeps the turn in flight until the stored assistant row is in
// the transcript, the wait runs out or ctx ends.
func (c *Chat) awaitReply(ctx context.Context) {
	settled := make(chan struct{}, 1)
	unsubscribe := c.transcript.Subscribe(func(entries []chat.Entry) {
		if replySettled(entries) {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if replySettled(c.transcript.Entries()) {
		return
	}

	timer := time.NewTimer(c.replyWait)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
		c.logger.Warn().Str("session_id", c.sync.SessionID()).Dur("waited", c.replyWait).Msg("assistant row not seen yet")
	case <-ctx.Done():
	}
}

// replySettled reports whether no turn is pending and the newest entry is
// a stored assistant row. An emptied transcript (session switched away)
// also counts as settled.
func replySettled(entries []chat.Entry) bool {
	if len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		if e.Pending() {
			return false
		}
	}
	last := entries[len(entries)-1]
	return last.Role == chat.RoleAssistant && !last.Local
}

func (c *Chat) setInFlight(v bool) {
	c.mu.Lock()
	c.inFlight = v
	c.mu.Unlock()
	c.emit(c.transcript.Entries())
}

func (c *Chat) emit(entries []chat.Entry) {
	c.mu.Lock()
	inFlight := c.inFlight
	fns := append([]ChangeFunc(nil), c.onChange...)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(entries, inFlight)
	}
}
