package nats

import (
	"context"
	"errors"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// Errors that publishing the same event again cannot fix.
var permanentPublishErrors = []error{
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
	nats.ErrInvalidMsg,
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case isPermanentPublishError(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

func isPermanentPublishError(err error) bool {
	for _, target := range permanentPublishErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// publishError maps a failed publish onto the domain error kinds the
// escalation manager logs.
func publishError(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case isPermanentPublishError(err):
		return domain.WrapError(domain.ErrInvalidInput, "publish escalation event", err)
	case classifyPublishError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, "publish escalation event", err)
	default:
		return err
	}
}
