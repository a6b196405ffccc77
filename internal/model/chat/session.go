package chat

import "time"

// Session is one conversation thread owned by a single user email.
// Rows are appended once and never mutated.
type Session struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
}

// ShortLabel renders the sidebar label used by chat lists.
func (s Session) ShortLabel() string {
	id := s.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Chat " + id + "..."
}
