package domain

import "strings"

type Category string

const (
	CategoryHelpRequest        Category = "help_request"
	CategoryInformationRequest Category = "information_request"
	CategoryComplaint          Category = "complaint"
	CategorySpam               Category = "spam"
)

var categories = []Category{
	CategoryHelpRequest,
	CategoryInformationRequest,
	CategoryComplaint,
	CategorySpam,
}

// Categories lists the labels the classifier may return, in prompt order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory maps free-form model output onto a known label.
func ParseCategory(raw string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Trim(normalized, "\"'`.")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, c := range categories {
		if normalized == string(c) {
			return c, true
		}
	}
	for _, c := range categories {
		if strings.Contains(normalized, string(c)) {
			return c, true
		}
	}
	return "", false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func ParseSentiment(raw string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(raw))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Classification is the per-message routing decision. Signals are kept so
// escalation priority can be derived without a second model round-trip.
type Classification struct {
	Category        Category  `json:"category"`
	NeedsEscalation bool      `json:"needs_escalation"`
	Sentiment       Sentiment `json:"sentiment,omitempty"`
	Urgent          bool      `json:"urgent,omitempty"`
	RepeatCount     int       `json:"repeat_count,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Degraded        bool      `json:"degraded,omitempty"`
}

func (c Classification) IsSpam() bool {
	return c.Category == CategorySpam && !c.NeedsEscalation
}
