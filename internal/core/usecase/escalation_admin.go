package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AdminService backs the operator API over escalations and outcomes.
type AdminService struct {
	escalations ports.EscalationStore
	outcomes    ports.OutcomeStore
	watermarks  ports.WatermarkStore
	now         func() time.Time
}

func NewAdminService(escalations ports.EscalationStore, outcomes ports.OutcomeStore, watermarks ports.WatermarkStore) *AdminService {
	return &AdminService{
		escalations: escalations,
		outcomes:    outcomes,
		watermarks:  watermarks,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *AdminService) ListEscalations(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	return s.escalations.ListEscalations(ctx, status, clampLimit(limit))
}

func (s *AdminService) GetEscalation(ctx context.Context, id string) (domain.Escalation, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Escalation{}, domain.WrapError(domain.ErrInvalidInput, "get escalation", errors.New("id is required"))
	}
	return s.escalations.GetEscalation(ctx, id)
}

func (s *AdminService) AssignEscalation(ctx context.Context, id, assignee string) (domain.Escalation, error) {
	return s.transition(ctx, id, "assign escalation", func(esc *domain.Escalation, now time.Time) error {
		return esc.Assign(strings.TrimSpace(assignee), now)
	})
}

func (s *AdminService) ResolveEscalation(ctx context.Context, id string) (domain.Escalation, error) {
	return s.transition(ctx, id, "resolve escalation", func(esc *domain.Escalation, now time.Time) error {
		return esc.Resolve(now)
	})
}

func (s *AdminService) transition(
	ctx context.Context,
	id, op string,
	apply func(*domain.Escalation, time.Time) error,
) (domain.Escalation, error) {
	prev, err := s.GetEscalation(ctx, id)
	if err != nil {
		return domain.Escalation{}, err
	}
	esc := prev
	if err := apply(&esc, s.now()); err != nil {
		return domain.Escalation{}, err
	}
	if err := s.escalations.UpdateEscalation(ctx, prev, esc); err != nil {
		return domain.Escalation{}, fmt.Errorf("%s: %w", op, err)
	}
	slog.Info("escalation_updated", "escalation_id", esc.ID, "status", esc.Status)
	return esc, nil
}

func (s *AdminService) ListOutcomes(ctx context.Context, limit int) ([]domain.ResponseOutcome, error) {
	return s.outcomes.ListOutcomes(ctx, clampLimit(limit))
}

func (s *AdminService) CountOutcomes(ctx context.Context, since time.Time) ([]domain.CategoryCount, error) {
	return s.outcomes.CountOutcomes(ctx, since)
}

func (s *AdminService) GetWatermark(ctx context.Context, mailbox string) (uint32, error) {
	return s.watermarks.GetWatermark(ctx, mailbox)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
