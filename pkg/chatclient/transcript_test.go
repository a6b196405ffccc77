package chatclient

import (
	"testing"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

func human(id int64, text string) chat.Message {
	return chat.Message{ID: id, SessionID: "s1", Message: chat.Payload{Type: chat.TypeHuman, Text: text}}
}

func ai(id int64, text string) chat.Message {
	return chat.Message{ID: id, SessionID: "s1", Message: chat.Payload{Type: chat.TypeAI, Content: text}}
}

func contents(entries []chat.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func assertContents(t *testing.T, got []chat.Entry, want ...string) {
	t.Helper()
	c := contents(got)
	if len(c) != len(want) {
		t.Fatalf("expected %v, got %v", want, c)
	}
	for i := range want {
		if c[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, c)
		}
	}
}

func TestTranscriptApplyDeduplicatesBySequence(t *testing.T) {
	tr := NewTranscript()
	if !tr.Apply(human(1, "hi")) {
		t.Fatal("first apply should report true")
	}
	if tr.Apply(human(1, "hi")) {
		t.Fatal("duplicate apply should report false")
	}
	assertContents(t, tr.Entries(), "hi")
}

func TestTranscriptApplyOrdersBySequence(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(human(1, "one"))
	tr.Apply(ai(3, "three"))
	tr.Apply(ai(2, "two"))
	assertContents(t, tr.Entries(), "one", "two", "three")
}

func TestTranscriptProjectsRoles(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(human(1, "q"))
	tr.Apply(ai(2, "a"))
	got := tr.Entries()
	if got[0].Role != chat.RoleUser || got[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", got)
	}
}

func TestTranscriptConfirmsPendingInPlace(t *testing.T) {
	tr := NewTranscript()
	tr.AppendPending("hello")
	if !tr.Entries()[0].Pending() {
		t.Fatal("optimistic entry should be pending")
	}

	tr.Apply(human(7, "hello"))
	tr.Apply(ai(8, "hi there"))

	got := tr.Entries()
	assertContents(t, got, "hello", "hi there")
	if got[0].Pending() || got[0].Seq != 7 {
		t.Fatalf("pending entry not confirmed: %+v", got[0])
	}
}

func TestTranscriptLocalErrorBubble(t *testing.T) {
	tr := NewTranscript()
	tr.AppendPending("hello")
	tr.AppendLocal(ErrorReply)

	got := tr.Entries()
	assertContents(t, got, "hello", ErrorReply)
	if !got[1].Local || got[1].Role != chat.RoleAssistant {
		t.Fatalf("expected local assistant bubble, got %+v", got[1])
	}
}

func TestTranscriptResetKeepsPending(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(human(1, "old"))
	tr.AppendPending("fresh")

	tr.Reset(true)
	assertContents(t, tr.Entries(), "fresh")

	// Sequence ids from the previous session are forgotten.
	if !tr.Apply(human(1, "fresh")) {
		t.Fatal("seq 1 should apply after reset")
	}
	assertContents(t, tr.Entries(), "fresh")

	tr.Reset(false)
	if n := len(tr.Entries()); n != 0 {
		t.Fatalf("expected empty transcript, got %d entries", n)
	}
}

func TestTranscriptListenersSeeEveryMutation(t *testing.T) {
	tr := NewTranscript()
	var sizes []int
	unsubscribe := tr.Subscribe(func(entries []chat.Entry) {
		sizes = append(sizes, len(entries))
	})

	tr.Apply(human(1, "a"))
	tr.Apply(human(1, "a"))
	tr.Apply(ai(2, "b"))
	unsubscribe()
	tr.Apply(ai(3, "c"))

	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 2 {
		t.Fatalf("unexpected notifications: %v", sizes)
	}
}

func seqs(entries []chat.Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Seq
	}
	return out
}

func TestTranscriptLateReplyBeforeNextTurnConfirms(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(human(1, "one"))

	// Turn 2 starts while turn 1's reply is still in the feed.
	tr.AppendPending("two")
	tr.Apply(ai(2, "reply one"))
	assertContents(t, tr.Entries(), "one", "reply one", "two")

	tr.Apply(human(3, "two"))
	tr.Apply(ai(4, "reply two"))

	got := tr.Entries()
	assertContents(t, got, "one", "reply one", "two", "reply two")
	s := seqs(got)
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			t.Fatalf("transcript not in sequence order: %v", s)
		}
	}
}

func TestTranscriptConfirmationMovesPastLowerRows(t *testing.T) {
	tr := NewTranscript()
	tr.AppendPending("hi")
	tr.Apply(ai(5, "earlier reply"))
	tr.Apply(human(6, "hi"))

	got := tr.Entries()
	assertContents(t, got, "earlier reply", "hi")
	if got[1].Seq != 6 {
		t.Fatalf("expected confirmed entry with seq 6, got %+v", got[1])
	}
}

func TestTranscriptLocalNoticeKeepsPlace(t *testing.T) {
	tr := NewTranscript()
	tr.Apply(human(1, "a"))
	tr.AppendLocal(ErrorReply)
	tr.Apply(ai(2, "b"))
	assertContents(t, tr.Entries(), "a", ErrorReply, "b")
}
