package lead

import (
	"reflect"
	"testing"
)

func TestExtractSignalsFields(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Field
	}{
		{"budget only", "my budget is around $300", []Field{FieldBudget}},
		{"timeline and requirements", "I need it by next week", []Field{FieldTimeline, FieldRequirements}},
		{"authority", "I'm the owner, I decide on purchases", []Field{FieldAuthority}},
		{"nothing", "hello!", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSignals(tt.text).Fields
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ExtractSignals(%q).Fields = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractSignalsBuyingStrength(t *testing.T) {
	if got := ExtractSignals("ready to buy, where do I pay?").BuyingSignal; got != SignalStrong {
		t.Fatalf("BuyingSignal = %q, want strong", got)
	}
	if got := ExtractSignals("how much is shipping?").BuyingSignal; got != SignalModerate {
		t.Fatalf("BuyingSignal = %q, want moderate", got)
	}
	if got := ExtractSignals("nice photos").BuyingSignal; got != SignalWeak {
		t.Fatalf("BuyingSignal = %q, want weak", got)
	}
}

func TestResolveFirstContactIsCold(t *testing.T) {
	sig := ExtractSignals("Hola, cuánto cuesta el producto?")
	got := Resolve(sig, NewState(), 0, 0)
	if got.Temperature != TemperatureCold {
		t.Fatalf("Temperature = %q, want cold on first contact with no fields", got.Temperature)
	}
	if len(got.Fields) != 0 {
		t.Fatalf("Fields = %v, want none", got.Fields)
	}
}

func TestResolveAccumulatesMonotonically(t *testing.T) {
	state := NewState()

	first := Resolve(ExtractSignals("my budget is $500"), state, 0, 0)
	state.Qualification = fieldSet(first.Fields)
	second := Resolve(ExtractSignals("I need it by next week"), state, 1, 0)

	want := []Field{FieldBudget, FieldTimeline, FieldRequirements}
	if !reflect.DeepEqual(second.Fields, want) {
		t.Fatalf("Fields after two messages = %v, want %v", second.Fields, want)
	}
	if second.Temperature != TemperatureWarm {
		t.Fatalf("Temperature = %q, want warm", second.Temperature)
	}

	// A content-free follow-up must not clear anything.
	third := Resolve(ExtractSignals("ok"), State{Qualification: fieldSet(second.Fields)}, 2, 0)
	if !reflect.DeepEqual(third.Fields, want) {
		t.Fatalf("Fields after empty follow-up = %v, want %v", third.Fields, want)
	}
}

func TestResolveHotNeedsFieldsAndUrgency(t *testing.T) {
	state := State{Qualification: map[Field]bool{
		FieldBudget: true, FieldTimeline: true, FieldRequirements: true,
	}}
	if got := Resolve(Signals{}, state, 3, 0.6).Temperature; got != TemperatureHot {
		t.Fatalf("Temperature = %q, want hot with 3 fields and urgency 0.6", got)
	}
	if got := Resolve(Signals{}, state, 3, 0.2).Temperature; got != TemperatureWarm {
		t.Fatalf("Temperature = %q, want warm with 3 fields but low urgency", got)
	}
}

func TestResolveColdAfterManyEmptyInteractions(t *testing.T) {
	got := Resolve(Signals{BuyingSignal: SignalWeak}, NewState(), 6, 0)
	if got.Temperature != TemperatureCold {
		t.Fatalf("Temperature = %q, want cold after 6 empty interactions", got.Temperature)
	}
}

func TestResolveRecentStrongSignalBeatsColdHistory(t *testing.T) {
	sig := ExtractSignals("actually I'm ready to buy")
	got := Resolve(sig, NewState(), 10, 0)
	if got.Temperature != TemperatureWarm {
		t.Fatalf("Temperature = %q, want warm: recent strong signal wins over cold history", got.Temperature)
	}
}

func fieldSet(fields []Field) map[Field]bool {
	m := map[Field]bool{}
	for _, f := range fields {
		m[f] = true
	}
	return m
}
