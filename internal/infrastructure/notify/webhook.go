package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
)

// Webhook posts a Slack-compatible {"text": ...} summary for each new
// escalation.
type Webhook struct {
	url        string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewWebhook(url string, timeout time.Duration, executor *resilience.Executor) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

type webhookPayload struct {
	Text       string            `json:"text"`
	Escalation domain.Escalation `json:"escalation"`
}

type webhookStatusError struct {
	StatusCode int
	Body       string
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("webhook status %d: %s", e.StatusCode, e.Body)
}

func (w *Webhook) NotifyEscalation(ctx context.Context, esc domain.Escalation) error {
	payload, err := json.Marshal(webhookPayload{Text: Summary(esc), Escalation: esc})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &webhookStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if w.executor == nil {
		err = call(ctx)
	} else {
		err = w.executor.Execute(ctx, "notify.webhook", call, classifyWebhookError)
	}
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "notify webhook", err)
	}
	return nil
}

func classifyWebhookError(err error) resilience.ErrorClassification {
	var statusErr *webhookStatusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

// Summary is the one-paragraph text used by every notifier.
func Summary(esc domain.Escalation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] escalation %s: %s", strings.ToUpper(string(esc.Priority)), esc.ID, esc.Reason)
	fmt.Fprintf(&b, "\nfrom: %s", esc.Sender)
	if esc.Subject != "" {
		fmt.Fprintf(&b, "\nsubject: %s", esc.Subject)
	}
	var factors []string
	if esc.Factors.NegativeSentiment {
		factors = append(factors, "negative sentiment")
	}
	if esc.Factors.UrgentLanguage {
		factors = append(factors, "urgent language")
	}
	if esc.Factors.RepeatContact {
		factors = append(factors, "repeat contact")
	}
	if len(factors) > 0 {
		fmt.Fprintf(&b, "\nrisk: %s (score %d)", strings.Join(factors, ", "), esc.Score)
	}
	if esc.Detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", esc.Detail)
	}
	return b.String()
}
