package domain

import (
	"testing"
	"time"
)

func TestRiskFactorsAllTrueIsHigh(t *testing.T) {
	factors := RiskFactors{NegativeSentiment: true, UrgentLanguage: true, RepeatContact: true}
	if got := factors.Score(); got != 8 {
		t.Fatalf("expected score 8, got %d", got)
	}
	if got := PriorityForScore(factors.Score()); got != PriorityHigh {
		t.Fatalf("expected high priority, got %s", got)
	}
}

func TestPriorityTiers(t *testing.T) {
	cases := []struct {
		score int
		want  Priority
	}{
		{1, PriorityLow},
		{2, PriorityLow},
		{3, PriorityMedium},
		{4, PriorityMedium},
		{6, PriorityHigh},
		{8, PriorityHigh},
	}
	for _, tc := range cases {
		if got := PriorityForScore(tc.score); got != tc.want {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestPriorityIsMonotonicInFactors(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		base := RiskFactors{
			NegativeSentiment: mask&1 != 0,
			UrgentLanguage:    mask&2 != 0,
			RepeatContact:     mask&4 != 0,
		}
		baseRank := PriorityForScore(base.Score()).Rank()

		raised := []RiskFactors{base, base, base}
		raised[0].NegativeSentiment = true
		raised[1].UrgentLanguage = true
		raised[2].RepeatContact = true
		for _, r := range raised {
			if PriorityForScore(r.Score()).Rank() < baseRank {
				t.Fatalf("adding a factor lowered priority: base=%+v raised=%+v", base, r)
			}
		}
	}
}

func TestEscalationTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	esc := &Escalation{ID: "e-1", Status: EscalationPending}

	if err := esc.Assign("", now); !IsKind(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty assignee, got %v", err)
	}
	if err := esc.Assign("ops@example.com", now); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if esc.Status != EscalationAssigned || esc.AssignedTo == nil || *esc.AssignedTo != "ops@example.com" {
		t.Fatalf("unexpected escalation after assign: %+v", esc)
	}
	if err := esc.Resolve(now); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := esc.Resolve(now); !IsKind(err, ErrConflict) {
		t.Fatalf("expected conflict on second resolve, got %v", err)
	}
	if err := esc.Assign("other@example.com", now); !IsKind(err, ErrConflict) {
		t.Fatalf("expected conflict assigning resolved escalation, got %v", err)
	}
}
