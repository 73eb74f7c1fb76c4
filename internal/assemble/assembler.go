// Package assemble merges one message's analysis outputs with the client's
// profile snapshot into a single Decision. Assembly is pure: it performs no
// I/O and depends only on already-fetched data, so identical inputs always
// produce the identical Decision.
package assemble

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amilie/inboxtriage/internal/business"
	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
	"github.com/amilie/inboxtriage/internal/memory"
	"github.com/amilie/inboxtriage/internal/protocol"
)

// Options bound the context summary.
type Options struct {
	// SummaryBudget is the maximum summary length in bytes.
	SummaryBudget int
	// HistoryWindow is how many recent entries may appear in the summary.
	HistoryWindow int
}

const (
	defaultSummaryBudget = 480
	defaultHistoryWindow = 3
)

// Assemble produces the Decision for one message. degraded marks analysis
// outputs that fell back to defaults.
func Assemble(
	msg protocol.Message,
	cls classify.Result,
	score lead.Score,
	profile memory.ClientProfile,
	biz business.Profile,
	opts Options,
	degraded bool,
) protocol.Decision {
	if opts.SummaryBudget <= 0 {
		opts.SummaryBudget = defaultSummaryBudget
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}

	return protocol.Decision{
		ClientID:          msg.ClientID,
		ChannelMessageID:  msg.ChannelMessageID,
		PriorityScore:     priority(cls, score.Temperature),
		Category:          cls.Category,
		Sentiment:         cls.Sentiment,
		Urgency:           cls.Urgency,
		LeadTemperature:   score.Temperature,
		ContextSummary:    summary(profile, biz, opts),
		RecommendedAction: recommendedAction(cls, score),
		Degraded:          degraded,
		AssembledAt:       time.Now().UTC(),
	}
}

// priority is the deterministic merge: urgency dominates, the urgent
// category adds a fixed bump, a hot lead breaks ties.
func priority(cls classify.Result, temp lead.Temperature) int {
	raw := cls.Urgency * 6
	if cls.Category == classify.CategoryUrgent {
		raw += 3
	}
	if temp == lead.TemperatureHot {
		raw += 1
	}
	p := int(math.Round(raw))
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// summary lists high-relevance attributes plus the most recent history
// lines, dropping oldest lines first when the byte budget is exceeded.
func summary(profile memory.ClientProfile, biz business.Profile, opts Options) string {
	var parts []string

	keys := make([]string, 0, len(profile.Attributes))
	for k := range profile.Attributes {
		if biz.IsHighRelevance(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, profile.Attributes[k]))
	}

	history := profile.History
	if len(history) > opts.HistoryWindow {
		history = history[len(history)-opts.HistoryWindow:]
	}
	for _, e := range history {
		parts = append(parts, fmt.Sprintf("[%s/%s] %s",
			e.Classifier.Category, e.Classifier.Sentiment, strings.TrimSpace(e.Message.Text)))
	}

	if len(parts) == 0 {
		return "new client, no history"
	}

	// Most recent wins: when over budget, drop from the front.
	for len(parts) > 1 && totalLen(parts) > opts.SummaryBudget {
		parts = parts[1:]
	}
	s := strings.Join(parts, " | ")
	if len(s) > opts.SummaryBudget {
		cut := opts.SummaryBudget
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func totalLen(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p) + 3 // separator
	}
	return n - 3
}

// recommendedAction mirrors the operator guidance ladder: immediate
// attention first, then buying intent, then nurturing.
func recommendedAction(cls classify.Result, score lead.Score) string {
	switch {
	case cls.Category == classify.CategoryUrgent:
		return "respond immediately - customer needs attention"
	case cls.Sentiment == classify.SentimentAngry || cls.Sentiment == classify.SentimentFrustrated:
		return "address the complaint promptly - risk of losing the customer"
	case score.Temperature == lead.TemperatureHot:
		return "ready to buy - present offer and close"
	case cls.Category == classify.CategorySpam:
		return "likely spam - review before replying"
	case cls.Category == classify.CategorySales:
		return "sales opportunity - qualify further and present value"
	case score.Temperature == lead.TemperatureWarm:
		return "nurture lead - provide value and build relationship"
	default:
		return "respond helpfully - standard inquiry"
	}
}
