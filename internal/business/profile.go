// Package business loads the operator-editable business profile: who the
// account is, which attribute keys matter for context assembly, and extra
// vocabulary for triage.
package business

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML-backed business configuration.
type Profile struct {
	Name     string `yaml:"name"`
	Tagline  string `yaml:"tagline"`
	Services string `yaml:"services"`

	// SalesKeywords extend the classifier's built-in sales lexicon with
	// product vocabulary specific to this business.
	SalesKeywords []string `yaml:"sales_keywords"`

	// HighRelevanceAttributes are profile attribute keys always surfaced in
	// the context summary (past complaints, stated preferences, language).
	HighRelevanceAttributes []string `yaml:"high_relevance_attributes"`

	// ReplyTemplates are canned suggestions keyed by triage category, used
	// by the default suggestion collaborator.
	ReplyTemplates map[string][]string `yaml:"reply_templates"`
}

// Default returns the profile used when no file is configured.
func Default() Profile {
	return Profile{
		Name:                    "inbox",
		HighRelevanceAttributes: []string{"complaint", "preference", "language"},
		ReplyTemplates: map[string][]string{
			"sales_opportunity": {
				"Thanks for your interest! Could you tell me a bit more about what you're looking for?",
				"Happy to help with pricing. What timeline are you working with?",
			},
			"urgent": {
				"I'm so sorry about this. Let me look into it right away.",
			},
			"general_inquiry": {
				"Thanks for reaching out! How can I help you today?",
			},
		},
	}
}

// Load reads a profile from path. An empty path yields Default; a missing or
// malformed file is an error so a misconfigured deployment fails loudly.
func Load(path string) (Profile, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read business profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse business profile: %w", err)
	}
	return p, nil
}

// IsHighRelevance reports whether an attribute key belongs in every summary.
func (p Profile) IsHighRelevance(key string) bool {
	for _, k := range p.HighRelevanceAttributes {
		if k == key {
			return true
		}
	}
	return false
}
