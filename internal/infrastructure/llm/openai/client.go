package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
)

// Client calls an OpenAI-compatible chat completions endpoint. It performs
// one call per credential; rotation belongs to the caller.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithExecutor(exec *resilience.Executor) Option {
	return func(c *Client) { c.executor = exec }
}

// New builds a client. requestsPerSecond <= 0 disables client-side pacing.
func New(baseURL, model string, timeout time.Duration, requestsPerSecond float64, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		executor:   resilience.NewExecutor(resilience.CredentialConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, cred domain.Credential, req domain.CompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.UserPrompt})
	if req.JSONOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var text string
	operation := fmt.Sprintf("llm.complete.%d", cred.Index)
	err := c.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		var response chatResponse
		if err := c.postJSON(callCtx, "/chat/completions", cred.Key, payload, &response); err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			return errors.New("completion response has no choices")
		}
		text = strings.TrimSpace(response.Choices[0].Message.Content)
		return nil
	}, classifyCompletionError)
	if err != nil {
		return "", toDomainError("llm complete", err)
	}
	return text, nil
}
