package feed_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
)

func msg(id int64, session, text string) chat.Message {
	return chat.Message{ID: id, SessionID: session, Message: chat.Payload{Type: chat.TypeAI, Text: text}}
}

func TestHubRoutesEventsBySession(t *testing.T) {
	hub := feed.NewHub(8, zerolog.Nop())
	a := hub.Subscribe("A")
	b := hub.Subscribe("B")
	defer a.Close()
	defer b.Close()

	hub.Publish(msg(1, "A", "for a"))
	hub.Publish(msg(2, "B", "for b"))

	select {
	case got := <-a.Events():
		if got.ID != 1 {
			t.Fatalf("session A received %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for A")
	}

	select {
	case got := <-a.Events():
		t.Fatalf("session A received foreign event %+v", got)
	default:
	}

	if got := <-b.Events(); got.ID != 2 {
		t.Fatalf("session B received %+v", got)
	}
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := feed.NewHub(8, zerolog.Nop())
	sub := hub.Subscribe("A")
	sub.Close()
	sub.Close() // idempotent

	hub.Publish(msg(1, "A", "late"))
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after Close")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := feed.NewHub(1, zerolog.Nop())
	sub := hub.Subscribe("A")

	hub.Publish(msg(1, "A", "one"))
	hub.Publish(msg(2, "A", "two"))

	if got, ok := <-sub.Events(); !ok || got.ID != 1 {
		t.Fatalf("expected buffered first event, got %+v ok=%v", got, ok)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected overflowing subscription to be closed")
	}
}

type flakySource struct {
	calls atomic.Int32
	emit  chat.Message
	gate  chan struct{}
}

func (s *flakySource) Listen(ctx context.Context, ready func(), emit func(chat.Message)) error {
	n := s.calls.Add(1)
	ready()
	if n == 1 {
		<-s.gate
		emit(s.emit)
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func waitLive(t *testing.T, hub *feed.Hub, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Live() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub live never became %v", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRunClosesSubscriptionsWhenSourceDrops(t *testing.T) {
	hub := feed.NewHub(8, zerolog.Nop())
	src := &flakySource{emit: msg(1, "A", "before drop"), gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		hub.Run(ctx, src)
		close(done)
	}()

	waitLive(t, hub, true)
	sub := hub.Subscribe("A")
	close(src.gate)

	if got, ok := <-sub.Events(); !ok || got.ID != 1 {
		t.Fatalf("expected event before drop, got %+v ok=%v", got, ok)
	}
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected subscription closed after source drop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after source drop")
	}

	deadline := time.Now().Add(5 * time.Second)
	for src.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("source was not resubscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

// outageSource fails its first Listen and holds the second until resume
// is closed.
type outageSource struct {
	calls  atomic.Int32
	resume chan struct{}
}

func (s *outageSource) Listen(ctx context.Context, ready func(), _ func(chat.Message)) error {
	if s.calls.Add(1) == 1 {
		return errors.New("connection refused")
	}
	select {
	case <-s.resume:
	case <-ctx.Done():
		return ctx.Err()
	}
	ready()
	<-ctx.Done()
	return ctx.Err()
}

func TestHubResyncsSubscriptionsOpenedDuringOutage(t *testing.T) {
	hub := feed.NewHub(8, zerolog.Nop())
	src := &outageSource{resume: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, src)

	deadline := time.Now().Add(5 * time.Second)
	for src.calls.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("source never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Live() {
		t.Fatal("hub should not be live during the outage")
	}

	sub := hub.Subscribe("A")
	close(src.resume)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected no events, only a close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription opened during outage was never closed")
	}
	waitLive(t, hub, true)

	fresh := hub.Subscribe("A")
	defer fresh.Close()
	hub.Publish(msg(7, "A", "after recovery"))
	if got, ok := <-fresh.Events(); !ok || got.ID != 7 {
		t.Fatalf("expected delivery after recovery, got %+v ok=%v", got, ok)
	}
}
