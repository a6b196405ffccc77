package utils

import (
	"testing"
	"time"
)

func TestBackoffStaysWithinBounds(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 20; i++ {
			if d := b.Next(attempt); d < 0 || d > b.Max {
				t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, b.Max)
			}
		}
	}
}

func TestDefaultBackoffCapsAtThirtySeconds(t *testing.T) {
	if d := DefaultBackoff.Next(50); d > 30*time.Second {
		t.Fatalf("delay %v above cap", d)
	}
}

func TestBackoffZeroBase(t *testing.T) {
	if d := (Backoff{}).Next(3); d != 0 {
		t.Fatalf("expected zero delay, got %v", d)
	}
}
