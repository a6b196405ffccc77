package feed

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/metrics"
	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// Source delivers message insert events for all sessions. Listen blocks
// until ctx is done or the underlying subscription fails; it calls ready
// once the subscription is established.
type Source interface {
	Listen(ctx context.Context, ready func(), emit func(chat.Message)) error
}

// Subscription receives insert events for one session. Events is closed
// when the subscription ends for any reason.
type Subscription struct {
	ID        string
	SessionID string

	events chan chat.Message
	hub    *Hub
	once   sync.Once
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan chat.Message {
	return s.events
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans insert events out to per-session subscriptions.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[string]*Subscription
	buffer  int
	backoff utils.Backoff
	live    bool
	logger  zerolog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:    make(map[string]map[string]*Subscription),
		buffer:  buffer,
		backoff: utils.DefaultBackoff,
		logger:  logger.With().Str("component", "feed").Logger(),
	}
}

// Subscribe registers interest in one session's inserts.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		events:    make(chan chat.Message, h.buffer),
		hub:       h,
	}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[string]*Subscription)
	}
	h.subs[sessionID][sub.ID] = sub
	h.mu.Unlock()

	metrics.FeedSubscribers.Inc()
	h.logger.Debug().Str("subscription", sub.ID).Str("session_id", sessionID).Msg("subscribed")
	return sub
}

// Publish delivers msg to every subscription of its session. A
// subscription whose buffer is full is closed so its client resyncs.
func (h *Hub) Publish(msg chat.Message) {
	metrics.FeedEvents.Inc()

	h.mu.Lock()
	var overflow []*Subscription
	for _, sub := range h.subs[msg.SessionID] {
		select {
		case sub.events <- msg:
		default:
			overflow = append(overflow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range overflow {
		metrics.FeedDropped.Inc()
		h.logger.Warn().Str("subscription", sub.ID).Str("session_id", sub.SessionID).Msg("subscriber too slow, dropping")
		h.remove(sub)
	}
}

// Live reports whether the source subscription is currently established.
// Hubs without a source are always live.
func (h *Hub) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Run drives src until ctx is done. When the source drops, every current
// subscription is closed (its events may have been missed) and the source
// is resubscribed with jittered backoff. Subscriptions opened during the
// outage are closed once the source is back, so their clients reload.
// A nil src marks the hub live and waits for ctx.
func (h *Hub) Run(ctx context.Context, src Source) {
	if src == nil {
		h.setLive(true)
		<-ctx.Done()
		h.setLive(false)
		h.closeAll()
		return
	}

	attempt := 0
	for {
		err := src.Listen(ctx, func() {
			attempt = 0
			// Subscriptions opened while the source was down may have
			// loaded history before inserts that were never delivered.
			h.closeAll()
			h.setLive(true)
			h.logger.Info().Msg("feed source subscribed")
		}, h.Publish)
		h.setLive(false)
		h.closeAll()

		if ctx.Err() != nil {
			return
		}

		delay := h.backoff.Next(attempt)
		attempt++
		metrics.FeedReconnects.Inc()
		h.logger.Warn().Err(err).Dur("retry_in", delay).Msg("feed source dropped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (h *Hub) setLive(live bool) {
	h.mu.Lock()
	h.live = live
	h.mu.Unlock()
}

func (h *Hub) remove(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if set := h.subs[sub.SessionID]; set != nil {
			delete(set, sub.ID)
			if len(set) == 0 {
				delete(h.subs, sub.SessionID)
			}
		}
		close(sub.events)
		h.mu.Unlock()
		metrics.FeedSubscribers.Dec()
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Subscription
	for _, set := range h.subs {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.remove(sub)
	}
}
