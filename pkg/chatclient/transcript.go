package chatclient

import (
	"strings"
	"sync"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

// ErrorReply is the local bubble shown when a turn fails.
const ErrorReply = "Sorry, there was an error. Please try again."

// Listener receives a snapshot of the transcript after every mutation.
type Listener func(entries []chat.Entry)

// Transcript is the client-visible ordered list of bubbles. Mutations are
// serialized and listeners run in mutation order while the lock is held,
// so a listener must not call back into the transcript.
//
// Store-derived entries are keyed by sequence id: a row is applied at most
// once and is placed after every entry with a lower id. The user's own
// turns are appended optimistically as pending entries and confirmed in
// place when the matching human row arrives.
type Transcript struct {
	mu        sync.Mutex
	entries   []chat.Entry
	seen      map[int64]struct{}
	listeners map[int]Listener
	nextID    int
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		seen:      make(map[int64]struct{}),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (t *Transcript) Subscribe(l Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Entries returns a snapshot.
func (t *Transcript) Entries() []chat.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Append adds an entry at the end. Entries with a sequence id go through
// Apply's deduplication instead.
func (t *Transcript) Append(entry chat.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Seq != 0 {
		t.applyLocked(entry)
	} else {
		t.entries = append(t.entries, entry)
	}
	t.notifyLocked()
}

// AppendPending adds the user's optimistic turn.
func (t *Transcript) AppendPending(content string) {
	t.Append(chat.Entry{Role: chat.RoleUser, Content: content})
}

// AppendLocal adds a client-only assistant notice.
func (t *Transcript) AppendLocal(content string) {
	t.Append(chat.Entry{Role: chat.RoleAssistant, Content: content, Local: true})
}

// Apply projects a stored message into the transcript. It reports false
// when the row was already applied.
func (t *Transcript) Apply(msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.applyLocked(chat.Project(msg)) {
		return false
	}
	t.notifyLocked()
	return true
}

func (t *Transcript) applyLocked(entry chat.Entry) bool {
	if _, dup := t.seen[entry.Seq]; dup {
		return false
	}
	t.seen[entry.Seq] = struct{}{}

	if entry.Role == chat.RoleUser {
		for i := range t.entries {
			if t.entries[i].Pending() && sameText(t.entries[i].Content, entry.Content) {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				break
			}
		}
	}

	t.insertLocked(entry)
	return true
}

// insertLocked places a stored entry after every entry with a lower
// sequence id. Pending entries stay at the tail; local notices keep their
// place.
func (t *Transcript) insertLocked(entry chat.Entry) {
	idx := len(t.entries)
	for idx > 0 {
		prev := t.entries[idx-1]
		if !prev.Pending() && prev.Seq <= entry.Seq {
			break
		}
		idx--
	}
	t.entries = append(t.entries, chat.Entry{})
	copy(t.entries[idx+1:], t.entries[idx:])
	t.entries[idx] = entry
}

// Reset clears the transcript. With keepPending, unconfirmed optimistic
// entries survive so a turn that minted a new session is not lost.
func (t *Transcript) Reset(keepPending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []chat.Entry
	if keepPending {
		for _, e := range t.entries {
			if e.Pending() {
				kept = append(kept, e)
			}
		}
	}
	t.entries = kept
	t.seen = make(map[int64]struct{})
	t.notifyLocked()
}

func (t *Transcript) snapshotLocked() []chat.Entry {
	out := make([]chat.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) notifyLocked() {
	if len(t.listeners) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for _, l := range t.listeners {
		l(snap)
	}
}

func sameText(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
