package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// Completion is a pooled language-model call.
type Completion interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

type ClassifierConfig struct {
	UrgencyKeywords []string
	RepeatWindow    time.Duration
}

type Classifier struct {
	llm      Completion
	contacts ports.ContactHistory
	cfg      ClassifierConfig
	now      func() time.Time
}

func NewClassifier(llm Completion, contacts ports.ContactHistory, cfg ClassifierConfig) *Classifier {
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = 30 * 24 * time.Hour
	}
	return &Classifier{
		llm:      llm,
		contacts: contacts,
		cfg:      cfg,
		now:      time.Now,
	}
}

type escalationSignals struct {
	NeedsEscalation bool   `json:"needs_escalation"`
	Sentiment       string `json:"sentiment"`
	Urgent          bool   `json:"urgent"`
	Reason          string `json:"reason"`
}

// Classify labels msg and decides whether it needs a human. The returned
// Classification is always usable: when a model call fails it is flagged
// for escalation and err carries the cause.
func (c *Classifier) Classify(ctx context.Context, msg domain.Message) (domain.Classification, error) {
	result := domain.Classification{
		Sentiment: domain.SentimentNeutral,
		Urgent:    containsKeyword(msg.Subject+"\n"+msg.Body, c.cfg.UrgencyKeywords),
	}

	category, err := c.category(ctx, msg)
	if err != nil {
		return degraded(result, err), domain.WrapError(domain.ErrClassification, "classify category", err)
	}
	result.Category = category
	if category == domain.CategorySpam {
		return result, nil
	}

	result.RepeatCount = c.repeatCount(ctx, msg)

	signals, err := c.signals(ctx, msg, category, result.RepeatCount)
	if err != nil {
		return degraded(result, err), domain.WrapError(domain.ErrClassification, "classify escalation", err)
	}
	result.NeedsEscalation = signals.NeedsEscalation
	result.Sentiment = domain.ParseSentiment(signals.Sentiment)
	result.Urgent = result.Urgent || signals.Urgent
	result.Reason = strings.TrimSpace(signals.Reason)
	return result, nil
}

func (c *Classifier) category(ctx context.Context, msg domain.Message) (domain.Category, error) {
	raw, err := c.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: categorySystemPrompt,
		UserPrompt:   buildCategoryPrompt(msg),
		Temperature:  0,
		MaxTokens:    10,
	})
	if err != nil {
		return "", err
	}
	category, ok := domain.ParseCategory(raw)
	if !ok {
		return "", fmt.Errorf("unrecognized category %q", raw)
	}
	return category, nil
}

func (c *Classifier) signals(ctx context.Context, msg domain.Message, category domain.Category, repeatCount int) (escalationSignals, error) {
	raw, err := c.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: escalationSystemPrompt,
		UserPrompt:   buildEscalationPrompt(msg, category, repeatCount),
		Temperature:  0,
		MaxTokens:    150,
		JSONOutput:   true,
	})
	if err != nil {
		return escalationSignals{}, err
	}
	var signals escalationSignals
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &signals); err != nil {
		return escalationSignals{}, fmt.Errorf("parse escalation json: %w", err)
	}
	return signals, nil
}

func (c *Classifier) repeatCount(ctx context.Context, msg domain.Message) int {
	if c.contacts == nil || msg.From == "" {
		return 0
	}
	count, err := c.contacts.CountRecentContacts(ctx, msg.From, c.now().Add(-c.cfg.RepeatWindow))
	if err != nil {
		slog.Warn("contact_history_unavailable", "uid", msg.UID, "error", err)
		return 0
	}
	return count
}

func degraded(result domain.Classification, cause error) domain.Classification {
	result.NeedsEscalation = true
	result.Degraded = true
	result.Reason = "automatic classification unavailable: " + cause.Error()
	return result
}

func containsKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
