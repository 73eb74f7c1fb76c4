// Package memory owns all cross-message client state: profiles, interaction
// history and accumulated lead qualification. Every mutation goes through the
// Store interface; callers never share profile structs with the store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
	"github.com/amilie/inboxtriage/internal/protocol"
)

// ErrStorageUnavailable marks a retryable storage fault. Backends wrap their
// driver errors with it so the orchestrator can retry the whole write-back.
var ErrStorageUnavailable = errors.New("storage unavailable")

// AppendResult reports whether an entry was stored or silently rejected as a
// duplicate of an already-ingested channel message id.
type AppendResult string

const (
	Appended  AppendResult = "appended"
	Duplicate AppendResult = "duplicate"
)

// HistoryEntry is the immutable snapshot of one processed message.
type HistoryEntry struct {
	ID         string          `json:"id"`
	Message    protocol.Message `json:"message"`
	Classifier classify.Result `json:"classifier"`
	LeadDelta  []lead.Field    `json:"lead_delta"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ClientProfile is the per-client aggregate. Store methods return deep copies;
// a returned profile is a snapshot, never live state.
type ClientProfile struct {
	ClientID   string            `json:"client_id"`
	Attributes map[string]string `json:"attributes"`
	History    []HistoryEntry    `json:"history"`
	LeadState  lead.State        `json:"lead_state"`
	CreatedAt  time.Time         `json:"created_at"`
	LastSeenAt time.Time         `json:"last_seen_at"`
}

// HasMessage reports whether a channel message id was already ingested.
func (p ClientProfile) HasMessage(channelMessageID string) bool {
	for _, e := range p.History {
		if e.Message.ChannelMessageID == channelMessageID {
			return true
		}
	}
	return false
}

// LeadDelta is a monotonic lead-state update: fields are only ever added,
// temperature is replaced with the most recent resolution.
type LeadDelta struct {
	Temperature lead.Temperature
	Fields      []lead.Field
}

// Store persists and retrieves client profiles.
//
// Get never fails with not-found: an unseen client yields an empty default
// profile. Append and UpdateLeadState for the same client must be serialized
// relative to each other by the caller; each call is individually atomic.
type Store interface {
	Get(ctx context.Context, clientID string) (ClientProfile, error)
	Append(ctx context.Context, clientID string, entry HistoryEntry) (AppendResult, error)
	UpdateAttributes(ctx context.Context, clientID, key, value string) error
	UpdateLeadState(ctx context.Context, clientID string, delta LeadDelta) (lead.State, error)
	ResetLeadState(ctx context.Context, clientID string) error
	History(ctx context.Context, clientID string, limit int) ([]HistoryEntry, error)
	Close() error
}

// storageErr wraps a backend driver error so errors.Is(err,
// ErrStorageUnavailable) holds and the original cause stays visible.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}

func emptyProfile(clientID string) ClientProfile {
	return ClientProfile{
		ClientID:   clientID,
		Attributes: map[string]string{},
		LeadState:  lead.NewState(),
	}
}
