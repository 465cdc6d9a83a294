package ports

import (
	"context"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// EscalationService is the operator contract for handling escalations.
type EscalationService interface {
	ListEscalations(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error)
	GetEscalation(ctx context.Context, id string) (domain.Escalation, error)
	AssignEscalation(ctx context.Context, id, assignee string) (domain.Escalation, error)
	ResolveEscalation(ctx context.Context, id string) (domain.Escalation, error)
}

// OutcomeReader is the read model over processed messages.
type OutcomeReader interface {
	ListOutcomes(ctx context.Context, limit int) ([]domain.ResponseOutcome, error)
	CountOutcomes(ctx context.Context, since time.Time) ([]domain.CategoryCount, error)
	GetWatermark(ctx context.Context, mailbox string) (uint32, error)
}

// MessageProcessor runs one message through the pipeline.
type MessageProcessor interface {
	Process(ctx context.Context, msg domain.Message) (domain.ResponseOutcome, error)
}
