package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// Store 会话存储所需的最小接口
type Store interface {
	CreateSession(ctx context.Context, userEmail, sessionID string) (chat.Session, error)
	ListSessions(ctx context.Context, userEmail string) ([]chat.Session, error)
}

// Handler 会话列表与创建的HTTP处理器
type Handler struct {
	store  Store
	logger zerolog.Logger
}

// New 创建会话处理器
func New(store Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
}

// handleListSessions 按创建时间倒序返回用户的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))

	sessions, err := h.store.ListSessions(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Str("user_email", email).Msg("list sessions failed")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleCreateSession 写入一条会话记录
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserEmail string `json:"userEmail"`
		SessionID string `json:"sessionId"`
	}

	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.UserEmail == "" || payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userEmail and sessionId are required")
		return
	}

	if _, err := h.store.CreateSession(r.Context(), payload.UserEmail, payload.SessionID); err != nil {
		h.logger.Error().Err(err).Str("session_id", payload.SessionID).Msg("create session failed")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
