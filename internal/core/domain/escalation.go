package domain

import (
	"fmt"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities so tiers can be compared.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationAssigned EscalationStatus = "assigned"
	EscalationResolved EscalationStatus = "resolved"
)

func ParseEscalationStatus(raw string) (EscalationStatus, bool) {
	switch EscalationStatus(raw) {
	case EscalationPending, EscalationAssigned, EscalationResolved:
		return EscalationStatus(raw), true
	default:
		return "", false
	}
}

type EscalationReason string

const (
	ReasonFlagged              EscalationReason = "flagged_for_review"
	ReasonClassificationFailed EscalationReason = "classification_failed"
	ReasonGenerationFailed     EscalationReason = "generation_failed"
	ReasonDispatchFailed       EscalationReason = "dispatch_failed"
)

const (
	PriorityHighThreshold   = 6
	PriorityMediumThreshold = 3
)

// RiskFactors are independent binary signals. Each true factor doubles the
// score, starting from 1.
type RiskFactors struct {
	NegativeSentiment bool `json:"negative_sentiment"`
	UrgentLanguage    bool `json:"urgent_language"`
	RepeatContact     bool `json:"repeat_contact"`
}

func (f RiskFactors) Score() int {
	score := 1
	for _, on := range []bool{f.NegativeSentiment, f.UrgentLanguage, f.RepeatContact} {
		if on {
			score *= 2
		}
	}
	return score
}

func PriorityForScore(score int) Priority {
	switch {
	case score >= PriorityHighThreshold:
		return PriorityHigh
	case score >= PriorityMediumThreshold:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Escalation routes a message to a human. DraftResponse keeps generated text
// when automation got as far as producing a reply.
type Escalation struct {
	ID            string           `json:"id"`
	Mailbox       string           `json:"mailbox"`
	UID           uint32           `json:"uid"`
	MessageID     string           `json:"message_id,omitempty"`
	Sender        string           `json:"sender"`
	Subject       string           `json:"subject"`
	Reason        EscalationReason `json:"reason"`
	Detail        string           `json:"detail,omitempty"`
	Factors       RiskFactors      `json:"factors"`
	Score         int              `json:"score"`
	Priority      Priority         `json:"priority"`
	Status        EscalationStatus `json:"status"`
	AssignedTo    *string          `json:"assigned_to,omitempty"`
	DraftResponse string           `json:"draft_response,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Assign moves a pending or assigned escalation to assignee.
func (e *Escalation) Assign(assignee string, now time.Time) error {
	if assignee == "" {
		return WrapError(ErrInvalidInput, "assign escalation", fmt.Errorf("assignee is required"))
	}
	if e.Status == EscalationResolved {
		return WrapError(ErrConflict, "assign escalation", fmt.Errorf("escalation %s is resolved", e.ID))
	}
	e.Status = EscalationAssigned
	e.AssignedTo = &assignee
	e.UpdatedAt = now
	return nil
}

func (e *Escalation) Resolve(now time.Time) error {
	if e.Status == EscalationResolved {
		return WrapError(ErrConflict, "resolve escalation", fmt.Errorf("escalation %s is already resolved", e.ID))
	}
	e.Status = EscalationResolved
	e.UpdatedAt = now
	return nil
}
