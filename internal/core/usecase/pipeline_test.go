package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type pipelineHarness struct {
	llm         *completionFake
	transport   *transportFake
	guard       *guardFake
	outcomes    *outcomeStoreFake
	escalations *escalationStoreFake
	watermarks  *watermarkFake
	catalog     *catalogFake
	pauses      int
	pipeline    *Pipeline
}

func newPipelineHarness(replies ...completionReply) *pipelineHarness {
	h := &pipelineHarness{
		llm:         &completionFake{replies: replies},
		transport:   &transportFake{},
		guard:       &guardFake{},
		outcomes:    &outcomeStoreFake{},
		escalations: newEscalationStoreFake(),
		watermarks:  &watermarkFake{value: 100},
		catalog:     &catalogFake{},
	}
	retrier := &retrierFake{attempts: 3}

	classifier := NewClassifier(h.llm, nil, ClassifierConfig{})
	knowledge := NewKnowledgeRetriever(h.catalog, &storageFake{}, passthroughExtractor{}, KnowledgeConfig{})
	generator := NewResponseGenerator(h.llm, GeneratorConfig{})
	dispatcher := NewDispatcher(h.transport, h.guard, retrier, DispatcherConfig{Mailbox: "inbox", MinDelay: time.Minute}, nil)
	dispatcher.sleep = func(context.Context, time.Duration) error {
		h.pauses++
		return nil
	}
	escalations := NewEscalationManager(h.escalations, nil, EscalationConfig{Mailbox: "inbox", RepeatThreshold: 2}, nil)
	analytics := NewAnalyticsRecorder(h.outcomes, nil)

	h.pipeline = NewPipeline(classifier, knowledge, generator, dispatcher, escalations, analytics,
		h.watermarks, retrier, PipelineConfig{Mailbox: "inbox"}, nil)
	return h
}

const noEscalation = `{"needs_escalation": false, "sentiment": "neutral", "urgent": false, "reason": ""}`

func testMessage(uid uint32) domain.Message {
	return domain.Message{
		UID:       uid,
		MessageID: "<msg-" + strconv.FormatUint(uint64(uid), 10) + "@example.com>",
		From:      "customer@example.com",
		Subject:   "Question",
		Body:      "When are you open?",
	}
}

func TestProcessRepliesToRoutineMessage(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "information_request"},
		completionReply{text: noEscalation},
		completionReply{text: "We are open 9 to 5."},
	)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.pipeline.now = func() time.Time { return start }
	msg := testMessage(101)
	msg.ReceivedAt = start.Add(-90 * time.Second)

	outcome, err := h.pipeline.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Disposition != domain.DispositionReplied {
		t.Fatalf("expected replied, got %s", outcome.Disposition)
	}
	if len(h.transport.sent) != 1 || h.transport.sent[0].Text != "We are open 9 to 5." {
		t.Fatalf("unexpected sends %+v", h.transport.sent)
	}
	if outcome.ResponseTimeMs == nil || *outcome.ResponseTimeMs != 90000 {
		t.Fatalf("expected 90000ms response time, got %v", outcome.ResponseTimeMs)
	}
	if len(h.outcomes.outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(h.outcomes.outcomes))
	}
	if h.watermarks.value != 101 {
		t.Fatalf("expected watermark 101, got %d", h.watermarks.value)
	}
}

func TestProcessResendsReplyLeftPending(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{text: "Here is how to reset it."},
	)
	h.guard.states = map[string]string{"autoreply:sent:inbox:101": "pending"}

	outcome, err := h.pipeline.Process(context.Background(), testMessage(101))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Disposition != domain.DispositionReplied {
		t.Fatalf("expected replied, got %s", outcome.Disposition)
	}
	if len(h.transport.sent) != 1 {
		t.Fatalf("a replied outcome needs a delivered reply, got %d sends", len(h.transport.sent))
	}
}

func TestProcessSharedMessageIDStillOneOutcomePerUID(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{text: "First reply"},
		completionReply{text: "complaint"},
		completionReply{text: `{"needs_escalation": true, "sentiment": "negative", "urgent": false, "reason": "angry"}`},
		completionReply{text: "complaint"},
		completionReply{text: `{"needs_escalation": true, "sentiment": "negative", "urgent": false, "reason": "angry"}`},
	)

	for _, uid := range []uint32{101, 102, 103} {
		msg := testMessage(uid)
		msg.MessageID = "<shared@example.com>"
		if _, err := h.pipeline.Process(context.Background(), msg); err != nil {
			t.Fatalf("process uid=%d: %v", uid, err)
		}
	}
	if len(h.transport.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(h.transport.sent))
	}
	if len(h.outcomes.outcomes) != 3 {
		t.Fatalf("expected an outcome per uid, got %d", len(h.outcomes.outcomes))
	}
	for i, uid := range []uint32{101, 102, 103} {
		if got := h.outcomes.outcomes[i]; got.UID != uid || got.MessageID != "<shared@example.com>" {
			t.Fatalf("unexpected outcome %d: %+v", i, got)
		}
	}
	if h.outcomes.outcomes[1].EscalationID == h.outcomes.outcomes[2].EscalationID {
		t.Fatalf("expected separate escalations, got %s twice", h.outcomes.outcomes[1].EscalationID)
	}
}

func TestProcessDropsSpamWithoutReply(t *testing.T) {
	h := newPipelineHarness(completionReply{text: "spam"})

	outcome, err := h.pipeline.Process(context.Background(), testMessage(101))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Disposition != domain.DispositionDropped {
		t.Fatalf("expected dropped, got %s", outcome.Disposition)
	}
	if len(h.transport.sent) != 0 || len(h.escalations.byID) != 0 {
		t.Fatalf("spam must not reply or escalate")
	}
	if len(h.outcomes.outcomes) != 1 || h.outcomes.outcomes[0].Classification.Category != domain.CategorySpam {
		t.Fatalf("expected recorded spam outcome, got %+v", h.outcomes.outcomes)
	}
	if h.watermarks.value != 101 {
		t.Fatalf("expected watermark 101, got %d", h.watermarks.value)
	}
}

func TestProcessEscalatesWithoutReply(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "complaint"},
		completionReply{text: `{"needs_escalation": true, "sentiment": "negative", "urgent": true, "reason": "refund dispute"}`},
	)

	outcome, err := h.pipeline.Process(context.Background(), testMessage(102))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Disposition != domain.DispositionEscalated || outcome.EscalationID == "" {
		t.Fatalf("expected escalation, got %+v", outcome)
	}
	if len(h.transport.sent) != 0 {
		t.Fatalf("escalated message must not get a reply")
	}
	esc := h.escalations.byID[outcome.EscalationID]
	if esc.Priority != domain.PriorityMedium || esc.Reason != domain.ReasonFlagged {
		t.Fatalf("unexpected escalation %+v", esc)
	}
}

func TestProcessClassificationFailureEscalates(t *testing.T) {
	h := newPipelineHarness(completionReply{err: errors.New("model down")})

	outcome, err := h.pipeline.Process(context.Background(), testMessage(103))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	esc := h.escalations.byID[outcome.EscalationID]
	if esc.Reason != domain.ReasonClassificationFailed {
		t.Fatalf("expected classification_failed, got %s", esc.Reason)
	}
}

func TestProcessGenerationFailureEscalates(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{err: domain.WrapError(domain.ErrGeneration, "llm complete", domain.ErrCredentialsExhausted)},
	)

	outcome, err := h.pipeline.Process(context.Background(), testMessage(104))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Disposition != domain.DispositionEscalated {
		t.Fatalf("expected escalated, got %s", outcome.Disposition)
	}
	if esc := h.escalations.byID[outcome.EscalationID]; esc.Reason != domain.ReasonGenerationFailed {
		t.Fatalf("expected generation_failed, got %s", esc.Reason)
	}
	if len(h.transport.sent) != 0 {
		t.Fatalf("expected no reply")
	}
}

func TestProcessDispatchFailureKeepsDraft(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{text: "Draft reply"},
	)
	permanent := errors.New("550 mailbox unavailable")
	h.transport.errs = []error{permanent}

	outcome, err := h.pipeline.Process(context.Background(), testMessage(105))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	esc := h.escalations.byID[outcome.EscalationID]
	if esc.Reason != domain.ReasonDispatchFailed || esc.DraftResponse != "Draft reply" {
		t.Fatalf("unexpected escalation %+v", esc)
	}
}

func TestProcessKeepsWatermarkWhenOutcomeNotStored(t *testing.T) {
	h := newPipelineHarness(completionReply{text: "spam"})
	h.outcomes.err = errors.New("db down")

	if _, err := h.pipeline.Process(context.Background(), testMessage(101)); err == nil {
		t.Fatalf("expected error")
	}
	if h.watermarks.value != 100 || len(h.watermarks.advances) != 0 {
		t.Fatalf("watermark must not move before the outcome is stored, got %d", h.watermarks.value)
	}
}

func TestProcessRetriesWatermarkAdvance(t *testing.T) {
	h := newPipelineHarness(completionReply{text: "spam"})
	h.watermarks.failures = 2

	if _, err := h.pipeline.Process(context.Background(), testMessage(101)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.watermarks.value != 101 {
		t.Fatalf("expected watermark 101, got %d", h.watermarks.value)
	}
}

func TestRunDrainsQueueInOrder(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "spam"},
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{text: "Reply"},
	)
	queue := make(chan domain.Message, 2)
	queue <- testMessage(101)
	queue <- testMessage(102)
	close(queue)

	if err := h.pipeline.Run(context.Background(), queue); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.watermarks.advances; len(got) != 2 || got[0] != 101 || got[1] != 102 {
		t.Fatalf("expected advances [101 102], got %v", got)
	}
	if h.pauses != 1 {
		t.Fatalf("expected one pause after the reply, got %d", h.pauses)
	}
	if h.catalog.calls != 1 {
		t.Fatalf("expected knowledge built once, got %d", h.catalog.calls)
	}
}

func TestRunRejectsSecondDrainLoop(t *testing.T) {
	h := newPipelineHarness()
	h.pipeline.running.Store(true)

	if err := h.pipeline.Run(context.Background(), make(chan domain.Message)); !errors.Is(err, ErrDrainRunning) {
		t.Fatalf("expected ErrDrainRunning, got %v", err)
	}
}

func TestRunStopsOnPersistenceFailure(t *testing.T) {
	h := newPipelineHarness(completionReply{text: "spam"})
	h.outcomes.err = errors.New("db down")
	queue := make(chan domain.Message, 1)
	queue <- testMessage(101)

	if err := h.pipeline.Run(context.Background(), queue); err == nil {
		t.Fatalf("expected run to stop with error")
	}
}

func TestRunAbandonsQueuedMessagesAfterCancel(t *testing.T) {
	h := newPipelineHarness()
	queue := make(chan domain.Message, 10)
	for uid := uint32(101); uid <= 110; uid++ {
		queue <- testMessage(uid)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.pipeline.Run(ctx, queue); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.llm.calls) != 0 || len(h.outcomes.outcomes) != 0 || len(h.watermarks.advances) != 0 {
		t.Fatalf("expected no message started after cancel, got %d llm calls", len(h.llm.calls))
	}
	if len(queue) != 10 {
		t.Fatalf("expected queued messages left in place, got %d", len(queue))
	}
}

func TestRunFinishesInFlightMessageAfterCancel(t *testing.T) {
	h := newPipelineHarness(
		completionReply{text: "help_request"},
		completionReply{text: noEscalation},
		completionReply{text: "Reply"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.llm.onCall = cancel

	queue := make(chan domain.Message, 3)
	queue <- testMessage(101)
	queue <- testMessage(102)
	queue <- testMessage(103)

	if err := h.pipeline.Run(ctx, queue); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.transport.sent) != 1 || len(h.outcomes.outcomes) != 1 {
		t.Fatalf("expected the in-flight message to complete, got %d sends %d outcomes",
			len(h.transport.sent), len(h.outcomes.outcomes))
	}
	if got := h.watermarks.advances; len(got) != 1 || got[0] != 101 {
		t.Fatalf("expected watermark advanced to 101 only, got %v", got)
	}
	if len(queue) != 2 {
		t.Fatalf("expected two messages left queued, got %d", len(queue))
	}
}
