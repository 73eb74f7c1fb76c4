// Package protocol defines the wire types exchanged with operators and
// collaborators: the inbound message record and the merged triage decision.
package protocol

import (
	"errors"
	"strings"
	"time"

	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
)

var (
	ErrMissingClientID  = errors.New("message missing client_id")
	ErrMissingMessageID = errors.New("message missing channel_message_id")
)

// Message is one inbound DM. Immutable after creation; ChannelMessageID is
// the platform's id and the dedup key under at-least-once delivery.
type Message struct {
	ClientID         string    `json:"client_id"`
	Text             string    `json:"text"`
	ReceivedAt       time.Time `json:"received_at"`
	ChannelMessageID string    `json:"channel_message_id"`
	Channel          string    `json:"channel,omitempty"`
}

// Validate checks the fields the pipeline cannot default.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ClientID) == "" {
		return ErrMissingClientID
	}
	if strings.TrimSpace(m.ChannelMessageID) == "" {
		return ErrMissingMessageID
	}
	return nil
}

// Decision is the ephemeral merged verdict for one message. It is handed to
// the operator and the reply-suggestion collaborator, never persisted.
type Decision struct {
	ClientID          string             `json:"client_id"`
	ChannelMessageID  string             `json:"channel_message_id"`
	PriorityScore     int                `json:"priority_score"`
	Category          classify.Category  `json:"category"`
	Sentiment         classify.Sentiment `json:"sentiment"`
	Urgency           float64            `json:"urgency"`
	LeadTemperature   lead.Temperature   `json:"lead_temperature"`
	ContextSummary    string             `json:"context_summary"`
	RecommendedAction string             `json:"recommended_action"`
	Degraded          bool               `json:"degraded"`
	AssembledAt       time.Time          `json:"assembled_at"`
}
