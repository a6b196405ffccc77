package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

type messageWriter interface {
	InsertMessage(ctx context.Context, sessionID string, payload chat.Payload) (chat.Message, error)
}

type workflow struct {
	db     messageWriter
	prefix string
	delay  time.Duration
	logger zerolog.Logger
}

func newWorkflow(db messageWriter, prefix string, delay time.Duration, logger zerolog.Logger) *workflow {
	return &workflow{db: db, prefix: prefix, delay: delay, logger: logger}
}

type workflowRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ServeHTTP writes the human row, then the ai row, then replies in the
// array-of-items shape the gateway expects.
func (wf *workflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		http.Error(w, "message and sessionId are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := wf.db.InsertMessage(ctx, req.SessionID, chat.Payload{Type: chat.TypeHuman, Content: req.Message}); err != nil {
		wf.fail(w, req.SessionID, err)
		return
	}

	if wf.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wf.delay):
		}
	}

	reply := wf.prefix + req.Message
	if _, err := wf.db.InsertMessage(ctx, req.SessionID, chat.Payload{Type: chat.TypeAI, Content: reply}); err != nil {
		wf.fail(w, req.SessionID, err)
		return
	}

	wf.logger.Info().Str("session_id", req.SessionID).Msg("turn recorded")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode([]map[string]string{{"output": reply}})
}

func (wf *workflow) fail(w http.ResponseWriter, sessionID string, err error) {
	wf.logger.Error().Err(err).Str("session_id", sessionID).Msg("insert failed")
	http.Error(w, "workflow error", http.StatusInternalServerError)
}
