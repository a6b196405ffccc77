package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// APIError is a non-2xx response from the chat API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

// API is an HTTP client for the chat backend.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI creates a client for baseURL (e.g. "http://localhost:8080").
// A nil httpClient gets a client without an overall timeout since chat
// turns wait on the external workflow.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 5 * time.Minute,
		}}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL returns the server root.
func (a *API) BaseURL() string {
	return a.baseURL
}

// ChatRequest mirrors POST /api/chat.
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"sessionId"`
	UserEmail string  `json:"userEmail"`
	IsNewChat bool    `json:"isNewChat"`
}

// ChatResponse mirrors the success body of POST /api/chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// Chat runs one turn.
func (a *API) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var out ChatResponse
	err := a.do(ctx, http.MethodPost, "/api/chat", req, &out)
	return out, err
}

// CreateSession registers a session row.
func (a *API) CreateSession(ctx context.Context, userEmail, sessionID string) error {
	body := map[string]string{"userEmail": userEmail, "sessionId": sessionID}
	return a.do(ctx, http.MethodPost, "/api/sessions", body, nil)
}

// ListSessions returns the user's sessions newest-first.
func (a *API) ListSessions(ctx context.Context, userEmail string) ([]chat.Session, error) {
	var out struct {
		Sessions []chat.Session `json:"sessions"`
	}
	err := a.do(ctx, http.MethodGet, "/api/sessions?email="+url.QueryEscape(userEmail), nil, &out)
	return out.Sessions, err
}

// ListMessages returns a session's messages oldest-first.
func (a *API) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	err := a.do(ctx, http.MethodGet, "/api/messages?sessionId="+url.QueryEscape(sessionID), nil, &out)
	return out.Messages, err
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
