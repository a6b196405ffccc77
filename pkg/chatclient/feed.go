package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

const (
	handshakeWait = 10 * time.Second
	feedPongWait  = 75 * time.Second
)

var errUnexpectedFrame = errors.New("unexpected feed frame")

// Subscription is a live stream of inserted messages for one session.
// Events is closed when the stream ends.
type Subscription interface {
	Events() <-chan chat.Message
	Close()
}

// Feed opens change-feed subscriptions. Subscribe returns only after the
// server has confirmed the subscription.
type Feed interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

type feedFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Data      *chat.Message `json:"data"`
}

// WSFeed subscribes over the backend's WebSocket endpoint.
type WSFeed struct {
	endpoint string
	dialer   *websocket.Dialer
	buffer   int
}

// NewWSFeed derives the WebSocket endpoint from the API base URL.
func NewWSFeed(baseURL string) (*WSFeed, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/api/ws/messages"

	return &WSFeed{endpoint: u.String(), dialer: websocket.DefaultDialer, buffer: 64}, nil
}

// Subscribe implements Feed.
func (f *WSFeed) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.endpoint+"?sessionId="+url.QueryEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var hello feedFrame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed handshake: %w", err)
	}
	if hello.Type != "connected" || hello.SessionID != sessionID {
		conn.Close()
		return nil, fmt.Errorf("%w: %q for %q", errUnexpectedFrame, hello.Type, hello.SessionID)
	}

	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	sub := &wsSubscription{
		conn:      conn,
		sessionID: sessionID,
		events:    make(chan chat.Message, f.buffer),
		closed:    make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

type wsSubscription struct {
	conn      *websocket.Conn
	sessionID string
	events    chan chat.Message
	closed    chan struct{}
	once      sync.Once
}

func (s *wsSubscription) Events() <-chan chat.Message {
	return s.events
}

func (s *wsSubscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

func (s *wsSubscription) readLoop() {
	defer close(s.events)
	for {
		var frame feedFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "message":
			if frame.Data == nil || frame.Data.SessionID != s.sessionID {
				continue
			}
			select {
			case s.events <- *frame.Data:
			case <-s.closed:
				return
			}
		case "resync":
			return
		}
	}
}
