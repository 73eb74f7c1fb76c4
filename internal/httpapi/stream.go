package httpapi

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amilie/inboxtriage/internal/protocol"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamBuffer       = 16
)

// DecisionStream fans delivered decisions out to connected operator
// websockets. Publish never blocks the pipeline: a subscriber that cannot
// keep up is dropped.
type DecisionStream struct {
	mu   sync.Mutex
	subs map[chan protocol.Decision]struct{}
}

func NewDecisionStream() *DecisionStream {
	return &DecisionStream{subs: make(map[chan protocol.Decision]struct{})}
}

// Publish implements inbox.DecisionSink.
func (s *DecisionStream) Publish(d protocol.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- d:
		default:
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *DecisionStream) subscribe() chan protocol.Decision {
	ch := make(chan protocol.Decision, streamBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *DecisionStream) unsubscribe(ch chan protocol.Decision) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (s *DecisionStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// serve pumps decisions to one websocket until it closes or falls behind.
func (s *DecisionStream) serve(conn *websocket.Conn) {
	ch := s.subscribe()
	defer func() {
		s.unsubscribe(ch)
		conn.Close()
	}()

	// Drain (and discard) client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(d); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
