package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	chatService "github.com/zhouzirui/webhook-chat/backend/internal/service/chat"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// 对外暴露的通用错误信息，具体原因只记录在服务端日志中。
const errFailedResponse = "Failed to get response"

// Turner runs one chat turn.
type Turner interface {
	Turn(ctx context.Context, req chatService.TurnRequest) (chatService.TurnResult, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc Turner
	logger  zerolog.Logger
}

// New 创建聊天处理器
func New(chatSvc Turner, logger zerolog.Logger) *Handler {
	return &Handler{chatSvc: chatSvc, logger: logger}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

type chatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
	UserEmail string  `json:"userEmail"`
	IsNewChat bool    `json:"isNewChat"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// handleChat 处理一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := chatService.TurnRequest{
		Message:   payload.Message,
		UserEmail: payload.UserEmail,
		IsNewChat: payload.IsNewChat,
	}
	if payload.SessionID != nil {
		req.SessionID = *payload.SessionID
	}

	result, err := h.chatSvc.Turn(r.Context(), req)
	if err != nil {
		if errors.Is(err, chatService.ErrMessageRequired) {
			utils.RespondError(w, http.StatusBadRequest, "message is required")
			return
		}
		h.logger.Error().Err(err).Str("session_id", result.SessionID).Msg("chat turn failed")
		utils.RespondError(w, http.StatusInternalServerError, errFailedResponse)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{Reply: result.Reply, SessionID: result.SessionID})
}
