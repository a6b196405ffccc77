package message

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// Lister 读取会话消息
type Lister interface {
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Handler 消息查询的HTTP处理器
type Handler struct {
	store  Lister
	logger zerolog.Logger
}

// New 创建消息处理器
func New(store Lister, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes 注册消息相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleListMessages)
}

// handleListMessages 按插入顺序返回会话消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("list messages failed")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
