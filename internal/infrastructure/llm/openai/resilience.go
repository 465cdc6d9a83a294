package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
	RetryAfter string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "completion status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("completion status: %s", e.Status)
	}
	return fmt.Sprintf("completion status: %s: %s", e.Status, e.Body)
}

// classifyCompletionError decides what counts against a credential's breaker.
// Client errors other than auth say nothing about the credential.
func classifyCompletionError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusUnauthorized,
			statusErr.StatusCode == http.StatusForbidden,
			statusErr.StatusCode >= 500:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// toDomainError maps a failed call onto the error kinds that drive
// credential rotation.
func toDomainError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return domain.WrapError(domain.ErrRateLimited, operation, err)
		case statusErr.StatusCode == http.StatusUnauthorized, statusErr.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrAuth, operation, err)
		case statusErr.StatusCode == http.StatusRequestTimeout, statusErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrTemporary, operation, err)
		default:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}

	// Network failures and malformed responses are worth another credential.
	return domain.WrapError(domain.ErrTemporary, operation, err)
}
