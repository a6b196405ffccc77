package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	feedService "github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sseBeat    = 15 * time.Second
)

// Frame types sent to feed clients.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameResync    = "resync"
	FrameHeartbeat = "heartbeat"
)

// Frame 推送给客户端的消息帧
type Frame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Data      *chat.Message `json:"data,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// Subscriber 为单个会话建立变更订阅
type Subscriber interface {
	Subscribe(sessionID string) *feedService.Subscription
}

// Handler 消息变更推送处理器（WebSocket 与 SSE 两种传输）
type Handler struct {
	hub      Subscriber
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New 创建推送处理器
func New(hub Subscriber, logger zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With().Str("component", "feed-handler").Logger(),
	}
}

// RegisterRoutes 注册推送相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/messages", h.handleWebSocket)
	r.Get("/messages/stream", h.handleSSE)
}

func newFrame(typ, sessionID string, msg *chat.Message) Frame {
	return Frame{Type: typ, SessionID: sessionID, Data: msg, Timestamp: time.Now().UnixMilli()}
}

// handleWebSocket 订阅会话消息插入事件并通过 WebSocket 推送。
// All writes happen on this goroutine; a reader goroutine only watches for
// close frames and pongs.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	log := h.logger.With().Str("session_id", sessionID).Str("subscription", sub.ID).Logger()
	log.Debug().Msg("websocket feed opened")

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	if err := h.write(conn, newFrame(FrameConnected, sessionID, nil)); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case msg, ok := <-sub.Events():
			if !ok {
				// The hub dropped us; tell the client to reload and resubscribe.
				_ = h.write(conn, newFrame(FrameResync, sessionID, nil))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, FrameResync),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, newFrame(FrameMessage, sessionID, &msg)); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, frame Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}
