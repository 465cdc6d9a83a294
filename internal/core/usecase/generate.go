package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type GeneratorConfig struct {
	Temperature float64
	MaxTokens   int
}

// ResponseGenerator drafts the reply text. Sampling settings are fixed at
// construction and never vary per call.
type ResponseGenerator struct {
	llm Completion
	cfg GeneratorConfig
}

func NewResponseGenerator(llm Completion, cfg GeneratorConfig) *ResponseGenerator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	return &ResponseGenerator{llm: llm, cfg: cfg}
}

func (g *ResponseGenerator) Generate(ctx context.Context, knowledge string, msg domain.Message) (string, error) {
	text, err := g.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: replySystemPrompt,
		UserPrompt:   buildReplyPrompt(knowledge, msg),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrGeneration) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrGeneration, "generate reply", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrGeneration, "generate reply", errors.New("empty completion"))
	}
	return text, nil
}
