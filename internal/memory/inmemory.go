package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amilie/inboxtriage/internal/lead"
)

// InMemoryStore keeps profiles in process memory. Used for local runs and as
// the reference implementation the backend tests compare against.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*ClientProfile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]*ClientProfile)}
}

func (s *InMemoryStore) Get(_ context.Context, clientID string) (ClientProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[clientID]
	if !ok {
		return emptyProfile(clientID), nil
	}
	return cloneProfile(p), nil
}

func (s *InMemoryStore) Append(_ context.Context, clientID string, entry HistoryEntry) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensure(clientID)
	for _, e := range p.History {
		if e.Message.ChannelMessageID == entry.Message.ChannelMessageID {
			return Duplicate, nil
		}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	p.History = append(p.History, entry)
	sort.SliceStable(p.History, func(i, j int) bool {
		return p.History[i].Message.ReceivedAt.Before(p.History[j].Message.ReceivedAt)
	})
	p.LastSeenAt = entry.Message.ReceivedAt
	return Appended, nil
}

func (s *InMemoryStore) UpdateAttributes(_ context.Context, clientID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensure(clientID)
	p.Attributes[key] = value
	return nil
}

func (s *InMemoryStore) UpdateLeadState(_ context.Context, clientID string, delta LeadDelta) (lead.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensure(clientID)
	for _, f := range delta.Fields {
		p.LeadState.Qualification[f] = true
	}
	if delta.Temperature != "" {
		p.LeadState.Temperature = delta.Temperature
	}
	return cloneLeadState(p.LeadState), nil
}

func (s *InMemoryStore) ResetLeadState(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensure(clientID)
	p.LeadState = lead.NewState()
	return nil
}

func (s *InMemoryStore) History(_ context.Context, clientID string, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[clientID]
	if !ok {
		return nil, nil
	}
	h := p.History
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// ensure must be called with the write lock held.
func (s *InMemoryStore) ensure(clientID string) *ClientProfile {
	p, ok := s.profiles[clientID]
	if !ok {
		fresh := emptyProfile(clientID)
		fresh.CreatedAt = time.Now().UTC()
		p = &fresh
		s.profiles[clientID] = p
	}
	return p
}

func cloneProfile(p *ClientProfile) ClientProfile {
	out := *p
	out.Attributes = make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		out.Attributes[k] = v
	}
	out.History = make([]HistoryEntry, len(p.History))
	copy(out.History, p.History)
	out.LeadState = cloneLeadState(p.LeadState)
	return out
}

func cloneLeadState(st lead.State) lead.State {
	out := lead.State{Temperature: st.Temperature, Qualification: make(map[lead.Field]bool, len(st.Qualification))}
	for f, ok := range st.Qualification {
		out.Qualification[f] = ok
	}
	return out
}
