// Package classify maps raw message text to sentiment, urgency and a coarse
// triage category. Classification is a pure function of the input text so
// repeated delivery of the same message always produces the same verdict.
package classify

import (
	"strings"
	"unicode"
)

type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentAngry      Sentiment = "angry"
	SentimentFrustrated Sentiment = "frustrated"
)

type Category string

const (
	CategoryUrgent         Category = "urgent"
	CategorySales          Category = "sales_opportunity"
	CategoryGeneralInquiry Category = "general_inquiry"
	CategorySpam           Category = "spam"
)

// Result is the classifier verdict for one message.
type Result struct {
	Sentiment Sentiment `json:"sentiment"`
	Urgency   float64   `json:"urgency"`
	Category  Category  `json:"category"`
	Language  string    `json:"language"`
}

// Neutral is the fallback verdict used when classification is skipped or
// degraded. Empty input classifies to exactly this value.
func Neutral() Result {
	return Result{
		Sentiment: SentimentNeutral,
		Urgency:   0,
		Category:  CategoryGeneralInquiry,
		Language:  "unknown",
	}
}

// Classifier scores message text against fixed keyword lexicons. Extra sales
// keywords from the business profile extend the built-in ones.
type Classifier struct {
	salesExtra []string
}

func New(extraSalesKeywords []string) *Classifier {
	extra := make([]string, 0, len(extraSalesKeywords))
	for _, kw := range extraSalesKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			extra = append(extra, kw)
		}
	}
	return &Classifier{salesExtra: extra}
}

var (
	angryWords = []string{
		"furious", "unacceptable", "scam", "fraud", "terrible", "worst",
		"disgusting", "never again", "estafa", "inaceptable",
	}
	frustratedWords = []string{
		"still waiting", "again?", "frustrated", "annoying", "disappointed",
		"how long", "third time", "sigo esperando", "decepcionado",
	}
	negativeWords = []string{
		"bad", "not happy", "problem", "issue", "broken", "complaint",
		"refund", "wrong", "late", "missing", "problema", "queja", "mal",
	}
	positiveWords = []string{
		"thanks", "thank you", "love", "great", "awesome", "perfect",
		"amazing", "excellent", "gracias", "encanta", "perfecto",
	}
	urgentWords = []string{
		"urgent", "asap", "immediately", "right now", "emergency", "today",
		"urgente", "ahora mismo", "inmediatamente", "ya mismo",
	}
	salesWords = []string{
		"how much", "price", "pricing", "cost", "buy", "order", "purchase",
		"quote", "commission", "interested in", "available", "invoice",
		"cuanto cuesta", "cuánto cuesta", "precio", "comprar", "pedido",
		"presupuesto", "disponible",
	}
	spamWords = []string{
		"free followers", "click this link", "promote your page",
		"check my bio", "make money fast", "crypto investment",
		"dm me to collab", "giveaway winner",
	}
	spanishMarkers = []string{
		"hola", "gracias", "cuánto", "cuanto", "precio", "por favor",
		"necesito", "quiero", "tienes", "¿", "¡",
	}
)

// Classify never fails: text it cannot make sense of comes back neutral.
func (c *Classifier) Classify(text string) Result {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Neutral()
	}

	res := Result{
		Sentiment: c.sentiment(lowered),
		Urgency:   c.urgency(lowered, text),
		Language:  detectLanguage(lowered),
	}
	res.Category = c.category(lowered, res)
	return res
}

func (c *Classifier) sentiment(lowered string) Sentiment {
	switch {
	case containsAny(lowered, angryWords):
		return SentimentAngry
	case containsAny(lowered, frustratedWords):
		return SentimentFrustrated
	case containsAny(lowered, negativeWords):
		return SentimentNegative
	case containsAny(lowered, positiveWords):
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

func (c *Classifier) urgency(lowered, original string) float64 {
	score := 0.0
	for _, w := range urgentWords {
		if strings.Contains(lowered, w) {
			score += 0.4
		}
	}
	if strings.Contains(lowered, "!!") {
		score += 0.2
	} else if strings.Contains(lowered, "!") {
		score += 0.1
	}
	if shoutRatio(original) > 0.6 {
		score += 0.2
	}
	if containsAny(lowered, angryWords) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (c *Classifier) category(lowered string, res Result) Category {
	switch {
	case containsAny(lowered, spamWords):
		return CategorySpam
	case res.Urgency >= 0.7 || res.Sentiment == SentimentAngry:
		return CategoryUrgent
	case containsAny(lowered, salesWords) || containsAny(lowered, c.salesExtra):
		return CategorySales
	default:
		return CategoryGeneralInquiry
	}
}

func detectLanguage(lowered string) string {
	for _, m := range spanishMarkers {
		if strings.Contains(lowered, m) {
			return "es"
		}
	}
	for _, r := range lowered {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			return "en"
		}
	}
	return "unknown"
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// shoutRatio is the share of letters written in upper case.
func shoutRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < 8 {
		return 0
	}
	return float64(upper) / float64(letters)
}
