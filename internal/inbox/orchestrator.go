// Package inbox orchestrates the triage pipeline for inbound messages:
// per-client serialization, concurrent analysis fan-out with bounded waits,
// deterministic assembly, and a retried atomic write-back.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/amilie/inboxtriage/internal/assemble"
	"github.com/amilie/inboxtriage/internal/business"
	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
	"github.com/amilie/inboxtriage/internal/memory"
	"github.com/amilie/inboxtriage/internal/observability"
	"github.com/amilie/inboxtriage/internal/policy"
	"github.com/amilie/inboxtriage/internal/protocol"
	"github.com/amilie/inboxtriage/internal/reliability"
	"github.com/amilie/inboxtriage/internal/respond"
)

// Classifier is the sentiment/urgency analysis capability. The built-in
// implementation is pure and local, but the interface admits remote models,
// so calls are bounded by the analysis timeout.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// SignalExtractor is the lead-signal analysis capability.
type SignalExtractor interface {
	Extract(ctx context.Context, text string) (lead.Signals, error)
}

// DecisionSink receives every delivered Decision (metrics dashboards,
// operator streams). Publish must not block the pipeline.
type DecisionSink interface {
	Publish(protocol.Decision)
}

// Status is the terminal outcome for one message.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Result is what the caller gets back for one ingested message.
type Result struct {
	Status      Status            `json:"status"`
	Decision    protocol.Decision `json:"decision,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// Options tune the pipeline. Zero values fall back to safe defaults.
type Options struct {
	AnalysisTimeout time.Duration
	SuggestTimeout  time.Duration
	RetryAttempts   int
	RetryBase       time.Duration
	RetryCap        time.Duration
	SummaryBudget   int
	HistoryWindow   int
	SuggestionCount int
}

func (o *Options) applyDefaults() {
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 2 * time.Second
	}
	if o.SuggestTimeout <= 0 {
		o.SuggestTimeout = 5 * time.Second
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 100 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 2 * time.Second
	}
	if o.SuggestionCount <= 0 {
		o.SuggestionCount = 3
	}
}

// Orchestrator runs the triage pipeline.
type Orchestrator struct {
	store      memory.Store
	classifier Classifier
	extractor  SignalExtractor
	suggester  respond.Suggester
	sink       DecisionSink
	metrics    *observability.Metrics
	biz        business.Profile
	opts       Options
	locks      *clientLocks
}

func NewOrchestrator(
	store memory.Store,
	classifier Classifier,
	extractor SignalExtractor,
	suggester respond.Suggester,
	sink DecisionSink,
	metrics *observability.Metrics,
	biz business.Profile,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:      store,
		classifier: classifier,
		extractor:  extractor,
		suggester:  suggester,
		sink:       sink,
		metrics:    metrics,
		biz:        biz,
		opts:       opts,
		locks:      newClientLocks(),
	}
}

// Process triages one message end to end. Messages for the same client are
// serialized; the suggestion call happens after delivery, outside the
// client's critical section.
func (o *Orchestrator) Process(ctx context.Context, msg protocol.Message) (Result, error) {
	if err := msg.Validate(); err != nil {
		return Result{Status: StatusFailed}, err
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	res, err := o.processLocked(ctx, msg)
	if err != nil || res.Status != StatusDelivered {
		return res, err
	}

	if o.sink != nil {
		o.sink.Publish(res.Decision)
	}
	res.Suggestions = o.suggest(ctx, res.Decision, msg.Text)
	return res, nil
}

// processLocked covers the critical section: profile read through write-back.
func (o *Orchestrator) processLocked(ctx context.Context, msg protocol.Message) (Result, error) {
	o.locks.acquire(msg.ClientID)
	defer o.locks.release(msg.ClientID)
	if o.metrics != nil {
		o.metrics.InFlightClients.Inc()
		defer o.metrics.InFlightClients.Dec()
	}

	var profile memory.ClientProfile
	err := o.retryStorage(ctx, func(ctx context.Context) error {
		var err error
		profile, err = o.store.Get(ctx, msg.ClientID)
		return err
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.FailedMessages.Inc()
		}
		return Result{Status: StatusFailed}, fmt.Errorf("read profile: %w", err)
	}

	if profile.HasMessage(msg.ChannelMessageID) {
		if o.metrics != nil {
			o.metrics.DuplicateMessages.Inc()
		}
		return Result{Status: StatusDuplicate}, nil
	}

	cls, sig, degraded := o.analyze(ctx, msg.Text)
	score := lead.Resolve(sig, profile.LeadState, len(profile.History), cls.Urgency)
	decision := assemble.Assemble(msg, cls, score, profile, o.biz, assemble.Options{
		SummaryBudget: o.opts.SummaryBudget,
		HistoryWindow: o.opts.HistoryWindow,
	}, degraded)

	entry := memory.HistoryEntry{
		Message:    msg,
		Classifier: cls,
		LeadDelta:  score.NewFields,
		CreatedAt:  time.Now().UTC(),
	}

	// The write-back retries as a unit. A retry after its own append
	// committed must not mistake the uniqueness hit for a replay, so the
	// append is tracked and the derived-state writes still run.
	outcome := memory.Appended
	appended := false
	err = o.retryStorage(ctx, func(ctx context.Context) error {
		if !appended {
			res, err := o.store.Append(ctx, msg.ClientID, entry)
			if err != nil {
				return err
			}
			if res == memory.Duplicate {
				outcome = memory.Duplicate
				return nil
			}
			appended = true
		}
		return o.writeDerivedState(ctx, msg, cls, score)
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.FailedMessages.Inc()
		}
		return Result{Status: StatusFailed}, fmt.Errorf("write back: %w", err)
	}
	if outcome == memory.Duplicate {
		if o.metrics != nil {
			o.metrics.DuplicateMessages.Inc()
		}
		return Result{Status: StatusDuplicate}, nil
	}

	if o.metrics != nil {
		o.metrics.MessagesProcessed.WithLabelValues(string(decision.Category)).Inc()
		o.metrics.PriorityScores.Observe(float64(decision.PriorityScore))
		if degraded {
			o.metrics.DegradedAnalyses.Inc()
		}
	}
	return Result{Status: StatusDelivered, Decision: decision}, nil
}

// writeDerivedState applies the attribute and lead-state updates that follow
// a successful append. Every write is idempotent, so a retried write-back
// that replays them is harmless.
func (o *Orchestrator) writeDerivedState(ctx context.Context, msg protocol.Message, cls classify.Result, score lead.Score) error {
	if cls.Language != "" && cls.Language != "unknown" {
		if err := o.store.UpdateAttributes(ctx, msg.ClientID, "language", cls.Language); err != nil {
			return err
		}
	}
	if cls.Sentiment == classify.SentimentAngry || cls.Sentiment == classify.SentimentFrustrated {
		if err := o.store.UpdateAttributes(ctx, msg.ClientID, "complaint", truncate(msg.Text, 120)); err != nil {
			return err
		}
	}
	_, err := o.store.UpdateLeadState(ctx, msg.ClientID, memory.LeadDelta{
		Temperature: score.Temperature,
		Fields:      score.NewFields,
	})
	return err
}

// analyze fans the message out to the classifier and the signal extractor
// concurrently. Either path timing out or failing degrades to defaults
// instead of failing the message.
func (o *Orchestrator) analyze(ctx context.Context, text string) (classify.Result, lead.Signals, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.AnalysisTimeout)
	defer cancel()

	type clsOut struct {
		res classify.Result
		err error
	}
	type sigOut struct {
		sig lead.Signals
		err error
	}
	clsCh := make(chan clsOut, 1)
	sigCh := make(chan sigOut, 1)

	go func() {
		res, err := o.classifier.Classify(ctx, text)
		clsCh <- clsOut{res, err}
	}()
	go func() {
		sig, err := o.extractor.Extract(ctx, text)
		sigCh <- sigOut{sig, err}
	}()

	cls := classify.Neutral()
	sig := lead.Signals{BuyingSignal: lead.SignalWeak}
	degraded := false

	select {
	case out := <-clsCh:
		if out.err != nil {
			degraded = true
		} else {
			cls = out.res
		}
	case <-ctx.Done():
		// A result racing the deadline still counts.
		select {
		case out := <-clsCh:
			if out.err != nil {
				degraded = true
			} else {
				cls = out.res
			}
		default:
			degraded = true
		}
	}
	select {
	case out := <-sigCh:
		if out.err != nil {
			degraded = true
		} else {
			sig = out.sig
		}
	case <-ctx.Done():
		select {
		case out := <-sigCh:
			if out.err != nil {
				degraded = true
			} else {
				sig = out.sig
			}
		default:
			degraded = true
		}
	}
	return cls, sig, degraded
}

func (o *Orchestrator) suggest(ctx context.Context, decision protocol.Decision, text string) []string {
	if o.suggester == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.SuggestTimeout)
	defer cancel()

	// The collaborator may live outside our trust boundary; mask contact
	// and payment data before the text leaves the service.
	redacted, _ := policy.RedactPII(text)
	suggestions, err := o.suggester.Suggest(ctx, respond.SuggestRequest{
		Decision: decision,
		Text:     redacted,
		ToneHint: toneHint(decision),
		Count:    o.opts.SuggestionCount,
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.SuggestionFailures.Inc()
		}
		return nil
	}
	return suggestions
}

func (o *Orchestrator) retryStorage(ctx context.Context, fn func(context.Context) error) error {
	return reliability.Retry(ctx, o.opts.RetryAttempts, o.opts.RetryBase, o.opts.RetryCap,
		func(err error) bool {
			if !errors.Is(err, memory.ErrStorageUnavailable) {
				return false
			}
			if o.metrics != nil {
				o.metrics.StorageRetries.Inc()
			}
			return true
		}, fn)
}

// toneHint picks the register the collaborator should write in: calm for
// upset clients, persuasive for hot leads, friendly otherwise.
func toneHint(d protocol.Decision) string {
	switch {
	case d.Sentiment == classify.SentimentAngry || d.Sentiment == classify.SentimentFrustrated:
		return "professional"
	case d.LeadTemperature == lead.TemperatureHot:
		return "persuasive"
	default:
		return "friendly"
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OverviewItem is one triaged entry of a batch inbox scan.
type OverviewItem struct {
	Message  protocol.Message  `json:"message"`
	Decision protocol.Decision `json:"decision"`
}

// Overview triages a batch of messages without persisting anything and
// returns them sorted most urgent first.
func (o *Orchestrator) Overview(ctx context.Context, msgs []protocol.Message) ([]OverviewItem, error) {
	items := make([]OverviewItem, 0, len(msgs))
	for _, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		profile, err := o.store.Get(ctx, msg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		cls, sig, degraded := o.analyze(ctx, msg.Text)
		score := lead.Resolve(sig, profile.LeadState, len(profile.History), cls.Urgency)
		decision := assemble.Assemble(msg, cls, score, profile, o.biz, assemble.Options{
			SummaryBudget: o.opts.SummaryBudget,
			HistoryWindow: o.opts.HistoryWindow,
		}, degraded)
		items = append(items, OverviewItem{Message: msg, Decision: decision})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Decision.PriorityScore != items[j].Decision.PriorityScore {
			return items[i].Decision.PriorityScore > items[j].Decision.PriorityScore
		}
		return items[i].Decision.Urgency > items[j].Decision.Urgency
	})
	return items, nil
}

// LocalClassifier adapts the pure keyword classifier to the capability
// interface used by the pipeline.
type LocalClassifier struct {
	C *classify.Classifier
}

func (l LocalClassifier) Classify(_ context.Context, text string) (classify.Result, error) {
	return l.C.Classify(text), nil
}

// LocalExtractor adapts the pure lead-signal extraction the same way.
type LocalExtractor struct{}

func (LocalExtractor) Extract(_ context.Context, text string) (lead.Signals, error) {
	return lead.ExtractSignals(text), nil
}
