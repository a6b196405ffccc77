package chat

import (
	"encoding/json"
	"fmt"
)

// Message payload types as written by the reply workflow.
const (
	TypeHuman = "human"
	TypeAI    = "ai"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored chat fragment. ID is the insertion sequence and
// defines display order.
type Message struct {
	ID        int64   `json:"id"`
	SessionID string  `json:"session_id"`
	Message   Payload `json:"message"`
}

// Payload is the JSON document stored in the message column. Workflows
// write either text or content; extra keys are preserved.
type Payload struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`

	extra map[string]json.RawMessage
}

// Body returns text, falling back to content.
func (p Payload) Body() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Content
}

// UnmarshalJSON keeps unknown keys so rows round-trip unchanged to clients.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message payload: %w", err)
	}

	*p = Payload{}
	for key, value := range raw {
		var target *string
		switch key {
		case "type":
			target = &p.Type
		case "text":
			target = &p.Text
		case "content":
			target = &p.Content
		}
		if target != nil {
			// Non-string values (e.g. structured content) are kept as extras.
			if err := json.Unmarshal(value, target); err == nil {
				continue
			}
		}
		if p.extra == nil {
			p.extra = make(map[string]json.RawMessage)
		}
		p.extra[key] = value
	}
	return nil
}

// MarshalJSON writes known fields plus any preserved extras.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.extra)+3)
	for key, value := range p.extra {
		out[key] = value
	}
	out["type"] = p.Type
	if p.Text != "" {
		out["text"] = p.Text
	}
	if p.Content != "" {
		out["content"] = p.Content
	}
	return json.Marshal(out)
}

// Entry is a client-visible transcript bubble.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Seq is the Message ID the entry was projected from; 0 while the
	// entry is an optimistic local append awaiting confirmation.
	Seq int64 `json:"seq,omitempty"`
	// Local marks bubbles that never existed in the store (error notices).
	Local bool `json:"local,omitempty"`
}

// Pending reports whether the entry is an unconfirmed optimistic append.
func (e Entry) Pending() bool {
	return e.Seq == 0 && !e.Local
}

// Project converts a stored message into a transcript entry.
func Project(m Message) Entry {
	role := RoleAssistant
	if m.Message.Type == TypeHuman {
		role = RoleUser
	}
	return Entry{Role: role, Content: m.Message.Body(), Seq: m.ID}
}
