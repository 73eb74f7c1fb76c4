package httpapi

import (
	"testing"

	"github.com/amilie/inboxtriage/internal/protocol"
)

func TestDecisionStreamDropsSlowSubscribers(t *testing.T) {
	s := NewDecisionStream()
	ch := s.subscribe()
	if s.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", s.Subscribers())
	}

	// Fill the buffer without draining, then publish once more.
	for i := 0; i <= streamBuffer; i++ {
		s.Publish(protocol.Decision{ChannelMessageID: "m"})
	}
	if s.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want slow subscriber dropped", s.Subscribers())
	}

	// The channel was closed on drop; draining must terminate.
	n := 0
	for range ch {
		n++
	}
	if n != streamBuffer {
		t.Fatalf("buffered decisions = %d, want %d", n, streamBuffer)
	}
}

func TestDecisionStreamUnsubscribeIsIdempotent(t *testing.T) {
	s := NewDecisionStream()
	ch := s.subscribe()
	s.unsubscribe(ch)
	s.unsubscribe(ch)
	if s.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want 0", s.Subscribers())
	}
}
