// Package lead extracts buying intent from a single message and resolves it
// against a client's accumulated lead state. Extraction is pure per message;
// resolution applies the monotonic accumulation rule, so the two halves can
// run on different sides of the profile read.
package lead

import "strings"

type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// Field is one of the four qualification slots tracked per client.
type Field string

const (
	FieldBudget       Field = "budget"
	FieldTimeline     Field = "timeline"
	FieldRequirements Field = "requirements"
	FieldAuthority    Field = "authority"
)

// AllFields lists the qualification slots in stable order.
var AllFields = []Field{FieldBudget, FieldTimeline, FieldRequirements, FieldAuthority}

type SignalStrength string

const (
	SignalWeak     SignalStrength = "weak"
	SignalModerate SignalStrength = "moderate"
	SignalStrong   SignalStrength = "strong"
)

// Signals is what one message contributes to lead qualification.
type Signals struct {
	Fields       []Field        `json:"fields"`
	BuyingSignal SignalStrength `json:"buying_signal"`
}

// State is the accumulated lead position for a client. Qualification fields
// only ever flip to true; clearing them requires an operator reset.
type State struct {
	Temperature   Temperature    `json:"temperature"`
	Qualification map[Field]bool `json:"qualification"`
}

// NewState returns the cold-start lead state for an unseen client.
func NewState() State {
	return State{Temperature: TemperatureCold, Qualification: map[Field]bool{}}
}

// Score is the resolved lead verdict after merging a message with history.
type Score struct {
	Temperature Temperature `json:"temperature"`
	Fields      []Field     `json:"fields_filled"`
	NewFields   []Field     `json:"new_fields"`
}

// coldAfterInteractions is how many prior messages with zero qualification
// progress it takes before a lead is called cold rather than merely new.
const coldAfterInteractions = 5

var fieldCues = map[Field][]string{
	FieldBudget: {
		"budget", "price range", "can spend", "willing to pay", "$", "€",
		"usd", "presupuesto", "puedo gastar",
	},
	FieldTimeline: {
		"timeline", "deadline", "by next", "by friday", "by monday",
		"this week", "next week", "this month", "tomorrow", "how soon",
		"when can you", "para cuándo", "para cuando", "esta semana",
	},
	FieldRequirements: {
		"i need", "looking for", "requirements", "must have", "features",
		"specs", "i want a", "necesito", "busco", "quiero un", "quiero una",
	},
	FieldAuthority: {
		"i decide", "my decision", "i'm the owner", "i am the owner",
		"decision maker", "i approve", "my company", "our team needs",
		"soy el dueño", "yo decido",
	},
}

var strongBuyingCues = []string{
	"ready to buy", "where do i pay", "take my money", "send the invoice",
	"let's do it", "i'll take it", "sign me up", "quiero comprar",
	"listo para comprar", "dónde pago", "donde pago",
}

var moderateBuyingCues = []string{
	"how much", "price", "cost", "order", "buy", "available", "interested",
	"cuánto", "cuanto", "precio", "comprar", "pedido",
}

// ExtractSignals scans one message for qualification cues. Pure and total:
// unrecognized text yields no fields and a weak signal.
func ExtractSignals(text string) Signals {
	lowered := strings.ToLower(strings.TrimSpace(text))
	sig := Signals{BuyingSignal: SignalWeak}
	if lowered == "" {
		return sig
	}

	for _, f := range AllFields {
		for _, cue := range fieldCues[f] {
			if strings.Contains(lowered, cue) {
				sig.Fields = append(sig.Fields, f)
				break
			}
		}
	}

	switch {
	case containsAny(lowered, strongBuyingCues):
		sig.BuyingSignal = SignalStrong
	case containsAny(lowered, moderateBuyingCues):
		sig.BuyingSignal = SignalModerate
	}
	return sig
}

// Resolve merges the current message's signals with the prior state.
// priorInteractions counts history entries before this message; urgency comes
// from the classifier. The current message always wins a conflict with
// history: a strong buying signal lifts an otherwise cold lead to warm.
func Resolve(sig Signals, prior State, priorInteractions int, urgency float64) Score {
	filled := make(map[Field]bool, len(AllFields))
	for f, ok := range prior.Qualification {
		if ok {
			filled[f] = true
		}
	}

	var newFields []Field
	for _, f := range sig.Fields {
		if !filled[f] {
			newFields = append(newFields, f)
		}
		filled[f] = true
	}

	count := 0
	fields := make([]Field, 0, len(AllFields))
	for _, f := range AllFields {
		if filled[f] {
			count++
			fields = append(fields, f)
		}
	}

	temp := TemperatureWarm
	switch {
	case count >= 3 && urgency >= 0.5:
		temp = TemperatureHot
	case count == 0 && priorInteractions >= coldAfterInteractions:
		temp = TemperatureCold
	case count == 0 && priorInteractions == 0:
		// First contact with nothing qualified yet: not warm, just unknown.
		temp = TemperatureCold
	}
	if temp == TemperatureCold && sig.BuyingSignal == SignalStrong {
		temp = TemperatureWarm
	}

	return Score{Temperature: temp, Fields: fields, NewFields: newFields}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}
