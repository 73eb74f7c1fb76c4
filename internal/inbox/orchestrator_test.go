package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/amilie/inboxtriage/internal/business"
	"github.com/amilie/inboxtriage/internal/classify"
	"github.com/amilie/inboxtriage/internal/lead"
	"github.com/amilie/inboxtriage/internal/memory"
	"github.com/amilie/inboxtriage/internal/protocol"
	"github.com/amilie/inboxtriage/internal/respond"
)

func newTestOrchestrator(store memory.Store, suggester respond.Suggester) *Orchestrator {
	return NewOrchestrator(
		store,
		LocalClassifier{C: classify.New(nil)},
		LocalExtractor{},
		suggester,
		nil,
		nil,
		business.Default(),
		Options{
			AnalysisTimeout: 500 * time.Millisecond,
			RetryAttempts:   3,
			RetryBase:       time.Millisecond,
			RetryCap:        4 * time.Millisecond,
		},
	)
}

func message(clientID, msgID, text string, at time.Time) protocol.Message {
	return protocol.Message{
		ClientID:         clientID,
		Text:             text,
		ReceivedAt:       at,
		ChannelMessageID: msgID,
	}
}

func TestProcessFirstContactCreatesProfile(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := newTestOrchestrator(store, nil)
	ctx := context.Background()

	res, err := o.Process(ctx, message("u1", "m1", "Hola, cuánto cuesta el producto?", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("Status = %q, want delivered", res.Status)
	}
	if res.Decision.Category != classify.CategorySales {
		t.Fatalf("Category = %q, want sales_opportunity", res.Decision.Category)
	}
	if res.Decision.LeadTemperature != lead.TemperatureCold {
		t.Fatalf("LeadTemperature = %q, want cold for first contact", res.Decision.LeadTemperature)
	}

	p, _ := store.Get(ctx, "u1")
	if len(p.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(p.History))
	}
	if len(p.LeadState.Qualification) != 0 {
		t.Fatalf("qualification = %v, want empty", p.LeadState.Qualification)
	}
	if p.Attributes["language"] != "es" {
		t.Fatalf("language attribute = %q, want es", p.Attributes["language"])
	}
}

func TestProcessAccumulatesQualificationAcrossMessages(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := newTestOrchestrator(store, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := o.Process(ctx, message("u1", "m1", "my budget is around $400", base)); err != nil {
		t.Fatalf("Process(m1) error = %v", err)
	}
	res, err := o.Process(ctx, message("u1", "m2", "I need it by next week", base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("Process(m2) error = %v", err)
	}
	if res.Decision.LeadTemperature != lead.TemperatureWarm {
		t.Fatalf("LeadTemperature = %q, want warm", res.Decision.LeadTemperature)
	}

	p, _ := store.Get(ctx, "u1")
	for _, f := range []lead.Field{lead.FieldBudget, lead.FieldTimeline} {
		if !p.LeadState.Qualification[f] {
			t.Fatalf("qualification missing %s: %v", f, p.LeadState.Qualification)
		}
	}
}

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := newTestOrchestrator(store, nil)
	ctx := context.Background()
	msg := message("u1", "m1", "how much for a banner?", time.Now().UTC())

	first, err := o.Process(ctx, msg)
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if first.Status != StatusDelivered {
		t.Fatalf("first Status = %q, want delivered", first.Status)
	}

	second, err := o.Process(ctx, msg)
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if second.Status != StatusDuplicate {
		t.Fatalf("second Status = %q, want duplicate", second.Status)
	}

	p, _ := store.Get(ctx, "u1")
	if len(p.History) != 1 {
		t.Fatalf("history length after duplicate = %d, want 1", len(p.History))
	}
}

type slowClassifier struct{ delay time.Duration }

func (s slowClassifier) Classify(ctx context.Context, _ string) (classify.Result, error) {
	select {
	case <-time.After(s.delay):
		return classify.Result{Sentiment: classify.SentimentAngry, Urgency: 1, Category: classify.CategoryUrgent}, nil
	case <-ctx.Done():
		return classify.Result{}, ctx.Err()
	}
}

func TestProcessDegradesOnClassifierTimeout(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := NewOrchestrator(
		store,
		slowClassifier{delay: time.Second},
		LocalExtractor{},
		nil, nil, nil,
		business.Default(),
		Options{AnalysisTimeout: 20 * time.Millisecond, RetryAttempts: 1},
	)

	res, err := o.Process(context.Background(), message("u1", "m1", "whatever", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("Status = %q, want delivered despite degraded analysis", res.Status)
	}
	if !res.Decision.Degraded {
		t.Fatalf("Degraded = false, want true")
	}
	if res.Decision.Sentiment != classify.SentimentNeutral {
		t.Fatalf("Sentiment = %q, want neutral fallback", res.Decision.Sentiment)
	}
	if res.Decision.Category != classify.CategoryGeneralInquiry {
		t.Fatalf("Category = %q, want general_inquiry fallback", res.Decision.Category)
	}
}

// flakyStore fails every operation with a retryable fault until failures
// runs out, then delegates.
type flakyStore struct {
	memory.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("disk gone: %w", memory.ErrStorageUnavailable)
	}
	return nil
}

func (f *flakyStore) Get(ctx context.Context, clientID string) (memory.ClientProfile, error) {
	if err := f.fail(); err != nil {
		return memory.ClientProfile{}, err
	}
	return f.Store.Get(ctx, clientID)
}

func (f *flakyStore) Append(ctx context.Context, clientID string, entry memory.HistoryEntry) (memory.AppendResult, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.Store.Append(ctx, clientID, entry)
}

func TestProcessRetriesStorageUnavailable(t *testing.T) {
	store := &flakyStore{Store: memory.NewInMemoryStore(), failures: 2}
	o := newTestOrchestrator(store, nil)

	res, err := o.Process(context.Background(), message("u1", "m1", "hello", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v, want recovery within retry budget", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("Status = %q, want delivered", res.Status)
	}
}

// leadFlakyStore delegates everywhere but fails lead-state writes a fixed
// number of times, faulting the write-back after the append committed.
type leadFlakyStore struct {
	memory.Store
	failures int
}

func (f *leadFlakyStore) UpdateLeadState(ctx context.Context, clientID string, delta memory.LeadDelta) (lead.State, error) {
	if f.failures > 0 {
		f.failures--
		return lead.State{}, fmt.Errorf("disk gone: %w", memory.ErrStorageUnavailable)
	}
	return f.Store.UpdateLeadState(ctx, clientID, delta)
}

func TestProcessRetriesPartialWriteBackToCompletion(t *testing.T) {
	store := &leadFlakyStore{Store: memory.NewInMemoryStore(), failures: 1}
	o := newTestOrchestrator(store, nil)
	ctx := context.Background()

	res, err := o.Process(ctx, message("u1", "m1", "my budget is $400", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("Status = %q, want delivered: the retry must not mistake its own append for a replay", res.Status)
	}

	p, _ := store.Get(ctx, "u1")
	if len(p.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(p.History))
	}
	if !p.LeadState.Qualification[lead.FieldBudget] {
		t.Fatalf("lead state never updated: qualification = %v", p.LeadState.Qualification)
	}
}

func TestProcessFailsAfterRetryBudgetExhausted(t *testing.T) {
	store := &flakyStore{Store: memory.NewInMemoryStore(), failures: 100}
	o := newTestOrchestrator(store, nil)

	res, err := o.Process(context.Background(), message("u1", "m1", "hello", time.Now().UTC()))
	if !errors.Is(err, memory.ErrStorageUnavailable) {
		t.Fatalf("Process() error = %v, want ErrStorageUnavailable", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
}

func TestProcessSuggestionFailureIsNonFatal(t *testing.T) {
	store := memory.NewInMemoryStore()
	suggester := &respond.ScriptedSuggester{Err: respond.ErrGenerationUnavailable}
	o := newTestOrchestrator(store, suggester)

	res, err := o.Process(context.Background(), message("u1", "m1", "hi there", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Status != StatusDelivered {
		t.Fatalf("Status = %q, want delivered", res.Status)
	}
	if len(res.Suggestions) != 0 {
		t.Fatalf("Suggestions = %v, want none", res.Suggestions)
	}
	if suggester.Calls != 1 {
		t.Fatalf("suggester calls = %d, want 1", suggester.Calls)
	}
}

func TestProcessTimeoutKeepsFinishedExtraction(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := NewOrchestrator(
		store,
		slowClassifier{delay: time.Second},
		LocalExtractor{},
		nil, nil, nil,
		business.Default(),
		Options{AnalysisTimeout: 20 * time.Millisecond, RetryAttempts: 1},
	)
	ctx := context.Background()

	res, err := o.Process(ctx, message("u1", "m1", "my budget is $400", time.Now().UTC()))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !res.Decision.Degraded {
		t.Fatalf("Degraded = false, want true with the classifier timed out")
	}

	p, _ := store.Get(ctx, "u1")
	if !p.LeadState.Qualification[lead.FieldBudget] {
		t.Fatalf("finished extraction discarded on timeout: qualification = %v", p.LeadState.Qualification)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("ñ", 70)
	got := truncate(s, 121)
	if len(got) > 121 {
		t.Fatalf("len = %d, want <= 121", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
}

type capturingSuggester struct {
	last respond.SuggestRequest
}

func (c *capturingSuggester) Suggest(_ context.Context, req respond.SuggestRequest) ([]string, error) {
	c.last = req
	return []string{"ok"}, nil
}

func TestProcessRedactsTextBeforeSuggesting(t *testing.T) {
	store := memory.NewInMemoryStore()
	suggester := &capturingSuggester{}
	o := newTestOrchestrator(store, suggester)

	msg := message("u1", "m1", "call me at +1 (555) 123-9876 about pricing", time.Now().UTC())
	if _, err := o.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if strings.Contains(suggester.last.Text, "555") {
		t.Fatalf("suggester saw unredacted text: %q", suggester.last.Text)
	}
	if !strings.Contains(suggester.last.Text, "[REDACTED_PHONE]") {
		t.Fatalf("suggester text missing redaction marker: %q", suggester.last.Text)
	}
}

func TestProcessSerializesSameClient(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := newTestOrchestrator(store, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := message("u1", fmt.Sprintf("m%d", i), "my budget is $100", base.Add(time.Duration(i)*time.Millisecond))
			if _, err := o.Process(ctx, msg); err != nil {
				t.Errorf("Process(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, _ := store.Get(ctx, "u1")
	if len(p.History) != n {
		t.Fatalf("history length = %d, want %d", len(p.History), n)
	}
	if !p.LeadState.Qualification[lead.FieldBudget] {
		t.Fatalf("qualification lost under concurrency: %v", p.LeadState.Qualification)
	}
}

func TestOverviewSortsByPriority(t *testing.T) {
	store := memory.NewInMemoryStore()
	o := newTestOrchestrator(store, nil)
	now := time.Now().UTC()

	msgs := []protocol.Message{
		message("a", "m1", "do you have this in red?", now),
		message("b", "m2", "URGENT!! my order is broken, this is unacceptable", now),
		message("c", "m3", "how much for a logo?", now),
	}
	items, err := o.Overview(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].Message.ClientID != "b" {
		t.Fatalf("top item = %q, want the urgent one", items[0].Message.ClientID)
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].Decision.PriorityScore < items[i].Decision.PriorityScore {
			t.Fatalf("overview not sorted: %d before %d",
				items[i-1].Decision.PriorityScore, items[i].Decision.PriorityScore)
		}
	}

	p, _ := store.Get(context.Background(), "b")
	if len(p.History) != 0 {
		t.Fatalf("Overview persisted history: %d entries", len(p.History))
	}
}

type recordingSink struct {
	mu        sync.Mutex
	decisions []protocol.Decision
}

func (r *recordingSink) Publish(d protocol.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func TestProcessPublishesDeliveredDecisions(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	o := NewOrchestrator(store, LocalClassifier{C: classify.New(nil)}, LocalExtractor{}, nil, sink, nil, business.Default(), Options{RetryAttempts: 1})

	msg := message("u1", "m1", "hola", time.Now().UTC())
	if _, err := o.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// Duplicate must not be published.
	if _, err := o.Process(context.Background(), msg); err != nil {
		t.Fatalf("duplicate Process() error = %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.decisions) != 1 {
		t.Fatalf("published decisions = %d, want 1", len(sink.decisions))
	}
	if sink.decisions[0].ChannelMessageID != "m1" {
		t.Fatalf("published id = %q, want m1", sink.decisions[0].ChannelMessageID)
	}
}
