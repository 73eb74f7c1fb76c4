// Package respond defines the reply-suggestion collaborator. The core never
// writes reply text itself; it hands the Decision to a Suggester and treats
// failure as non-fatal.
package respond

import (
	"context"
	"errors"

	"github.com/amilie/inboxtriage/internal/business"
	"github.com/amilie/inboxtriage/internal/protocol"
)

// ErrGenerationUnavailable marks a suggestion failure the pipeline must
// absorb: the Decision is still delivered, just without suggested replies.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// SuggestRequest carries everything a collaborator needs to draft replies.
type SuggestRequest struct {
	Decision protocol.Decision `json:"decision"`
	Text     string            `json:"text"`
	ToneHint string            `json:"tone_hint"`
	Count    int               `json:"count"`
}

// Suggester produces ranked reply suggestions for a triaged message.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) ([]string, error)
}

// TemplateSuggester serves canned replies from the business profile, keyed
// by triage category. It stands in until a real generation backend is wired.
type TemplateSuggester struct {
	profile business.Profile
}

func NewTemplateSuggester(profile business.Profile) *TemplateSuggester {
	return &TemplateSuggester{profile: profile}
}

func (s *TemplateSuggester) Suggest(_ context.Context, req SuggestRequest) ([]string, error) {
	templates := s.profile.ReplyTemplates[string(req.Decision.Category)]
	if len(templates) == 0 {
		templates = s.profile.ReplyTemplates["general_inquiry"]
	}
	if len(templates) == 0 {
		return nil, ErrGenerationUnavailable
	}
	if req.Count > 0 && len(templates) > req.Count {
		templates = templates[:req.Count]
	}
	out := make([]string, len(templates))
	copy(out, templates)
	return out, nil
}

// ScriptedSuggester replays fixed responses; test double.
type ScriptedSuggester struct {
	Replies []string
	Err     error
	Calls   int
}

func (s *ScriptedSuggester) Suggest(_ context.Context, _ SuggestRequest) ([]string, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Replies, nil
}
