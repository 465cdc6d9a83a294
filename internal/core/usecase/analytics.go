package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

type AnalyticsRecorder struct {
	outcomes ports.OutcomeStore
	contacts ports.ContactHistory
}

func NewAnalyticsRecorder(outcomes ports.OutcomeStore, contacts ports.ContactHistory) *AnalyticsRecorder {
	return &AnalyticsRecorder{outcomes: outcomes, contacts: contacts}
}

// Record persists the outcome. Contact history is updated best effort since
// it only feeds future escalation scoring.
func (a *AnalyticsRecorder) Record(ctx context.Context, outcome domain.ResponseOutcome) error {
	if err := a.outcomes.PutOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("persist outcome: %w", err)
	}
	if a.contacts != nil && outcome.Sender != "" {
		if err := a.contacts.RecordContact(ctx, outcome.Sender, outcome.Key(), outcome.RecordedAt); err != nil {
			slog.Warn("contact_history_record_failed", "mailbox", outcome.Mailbox, "uid", outcome.UID, "error", err)
		}
	}
	return nil
}
