package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

type EscalationConfig struct {
	Mailbox         string
	RepeatThreshold int
}

// EscalationRequest carries what the manager needs to route a message to a
// human.
type EscalationRequest struct {
	Message        domain.Message
	Classification domain.Classification
	Reason         domain.EscalationReason
	Detail         string
	DraftResponse  string
}

type EscalationManager struct {
	store     ports.EscalationStore
	notifiers []ports.EscalationNotifier
	cfg       EscalationConfig
	observer  Observer
	now       func() time.Time
	newID     func() string
}

func NewEscalationManager(
	store ports.EscalationStore,
	notifiers []ports.EscalationNotifier,
	cfg EscalationConfig,
	observer Observer,
) *EscalationManager {
	return &EscalationManager{
		store:     store,
		notifiers: notifiers,
		cfg:       cfg,
		observer:  observerOrNop(observer),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Factors derives the risk factors for a classified message.
func (m *EscalationManager) Factors(cls domain.Classification) domain.RiskFactors {
	return domain.RiskFactors{
		NegativeSentiment: cls.Sentiment == domain.SentimentNegative,
		UrgentLanguage:    cls.Urgent,
		RepeatContact:     cls.RepeatCount > m.cfg.RepeatThreshold,
	}
}

// Escalate persists an escalation for the message and notifies operators.
// Escalating the same message twice returns the stored record without a
// second notification.
func (m *EscalationManager) Escalate(ctx context.Context, req EscalationRequest) (domain.Escalation, error) {
	factors := m.Factors(req.Classification)
	score := factors.Score()
	now := m.now()

	esc := domain.Escalation{
		ID:            m.newID(),
		Mailbox:       m.cfg.Mailbox,
		UID:           req.Message.UID,
		MessageID:     req.Message.MessageID,
		Sender:        req.Message.From,
		Subject:       req.Message.Subject,
		Reason:        req.Reason,
		Detail:        req.Detail,
		Factors:       factors,
		Score:         score,
		Priority:      domain.PriorityForScore(score),
		Status:        domain.EscalationPending,
		DraftResponse: req.DraftResponse,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	id, created, err := m.store.PutEscalation(ctx, esc)
	if err != nil {
		return domain.Escalation{}, fmt.Errorf("persist escalation: %w", err)
	}
	esc.ID = id
	if !created {
		slog.Info("escalation_exists", "mailbox", m.cfg.Mailbox, "uid", req.Message.UID, "escalation_id", id)
		return esc, nil
	}

	m.observer.ObserveEscalation(string(esc.Priority))
	slog.Info("escalation_created",
		"mailbox", m.cfg.Mailbox,
		"uid", req.Message.UID,
		"escalation_id", esc.ID,
		"priority", esc.Priority,
		"score", esc.Score,
		"reason", esc.Reason,
	)

	for _, n := range m.notifiers {
		if err := n.NotifyEscalation(ctx, esc); err != nil {
			slog.Warn("escalation_notify_failed", "escalation_id", esc.ID, "notifier", fmt.Sprintf("%T", n), "error", err)
		}
	}
	return esc, nil
}
