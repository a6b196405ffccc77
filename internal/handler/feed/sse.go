package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// handleSSE 以 Server-Sent Events 推送会话消息，附带心跳。
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log := h.logger.With().Str("session_id", sessionID).Str("subscription", sub.ID).Logger()
	log.Debug().Msg("sse feed opened")

	if err := utils.SendSSEEvent(w, flusher, FrameConnected, newFrame(FrameConnected, sessionID, nil)); err != nil {
		return
	}

	ticker := time.NewTicker(sseBeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("sse feed closed")
			return
		case msg, ok := <-sub.Events():
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, FrameResync, newFrame(FrameResync, sessionID, nil))
				return
			}
			if err := utils.SendSSEEvent(w, flusher, FrameMessage, newFrame(FrameMessage, sessionID, &msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, FrameHeartbeat, newFrame(FrameHeartbeat, sessionID, nil)); err != nil {
				return
			}
		}
	}
}
