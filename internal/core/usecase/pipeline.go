package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

var ErrDrainRunning = errors.New("drain loop already running")

type PipelineConfig struct {
	Mailbox string
	// ProcessTimeout bounds one message, shutdown included.
	ProcessTimeout time.Duration
}

// Pipeline drains the message queue one message at a time. Each message ends
// in exactly one recorded outcome before the watermark moves to its UID.
type Pipeline struct {
	classifier  *Classifier
	knowledge   *KnowledgeRetriever
	generator   *ResponseGenerator
	dispatcher  *Dispatcher
	escalations *EscalationManager
	analytics   *AnalyticsRecorder
	watermarks  ports.WatermarkStore
	persist     Retrier
	cfg         PipelineConfig
	observer    Observer
	now         func() time.Time

	running atomic.Bool
}

func NewPipeline(
	classifier *Classifier,
	knowledge *KnowledgeRetriever,
	generator *ResponseGenerator,
	dispatcher *Dispatcher,
	escalations *EscalationManager,
	analytics *AnalyticsRecorder,
	watermarks ports.WatermarkStore,
	persist Retrier,
	cfg PipelineConfig,
	observer Observer,
) *Pipeline {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 5 * time.Minute
	}
	return &Pipeline{
		classifier:  classifier,
		knowledge:   knowledge,
		generator:   generator,
		dispatcher:  dispatcher,
		escalations: escalations,
		analytics:   analytics,
		watermarks:  watermarks,
		persist:     persist,
		cfg:         cfg,
		observer:    observerOrNop(observer),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes queue until ctx is cancelled or queue is closed. The message
// in flight when ctx is cancelled still completes; queued messages are left
// for the next start. A persistence failure stops the loop.
func (p *Pipeline) Run(ctx context.Context, queue <-chan domain.Message) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrDrainRunning
	}
	defer p.running.Store(false)

	stopped := func() bool {
		if ctx.Err() == nil {
			return false
		}
		slog.Info("drain_stopped", "mailbox", p.cfg.Mailbox, "abandoned", len(queue))
		return true
	}

	for {
		// A ready queue must not win over cancellation.
		if stopped() {
			return nil
		}
		select {
		case <-ctx.Done():
			stopped()
			return nil
		case msg, ok := <-queue:
			if !ok {
				return nil
			}
			if stopped() {
				return nil
			}
			p.observer.SetQueueDepth(len(queue))

			procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ProcessTimeout)
			outcome, err := p.Process(procCtx, msg)
			cancel()
			if err != nil {
				return fmt.Errorf("process uid=%d: %w", msg.UID, err)
			}

			if outcome.Disposition == domain.DispositionReplied {
				if err := p.dispatcher.Pause(ctx); err != nil {
					return nil
				}
			}
			if len(queue) == 0 {
				p.knowledge.Invalidate()
			}
		}
	}
}

// Process runs one message to its terminal outcome and advances the
// watermark. An error means the outcome could not be made durable.
func (p *Pipeline) Process(ctx context.Context, msg domain.Message) (domain.ResponseOutcome, error) {
	start := p.now()
	p.observer.StartMessage()

	outcome, err := p.decide(ctx, msg, start)
	if err != nil {
		p.observer.FinishMessage("", p.now().Sub(start))
		return domain.ResponseOutcome{}, err
	}

	record := func(ctx context.Context) error { return p.analytics.Record(ctx, outcome) }
	if err := p.persist.Retry(ctx, "outcome.record", record, retryUnlessCancelled); err != nil {
		p.observer.FinishMessage("", p.now().Sub(start))
		return domain.ResponseOutcome{}, err
	}

	advance := func(ctx context.Context) error { return p.watermarks.AdvanceWatermark(ctx, p.cfg.Mailbox, msg.UID) }
	if err := p.persist.Retry(ctx, "watermark.advance", advance, retryUnlessCancelled); err != nil {
		p.observer.FinishMessage("", p.now().Sub(start))
		return domain.ResponseOutcome{}, fmt.Errorf("advance watermark: %w", err)
	}

	p.observer.FinishMessage(string(outcome.Disposition), p.now().Sub(start))
	slog.Info("message_processed",
		"mailbox", p.cfg.Mailbox,
		"uid", msg.UID,
		"category", outcome.Classification.Category,
		"disposition", outcome.Disposition,
		"escalation_id", outcome.EscalationID,
	)
	return outcome, nil
}

func (p *Pipeline) decide(ctx context.Context, msg domain.Message, start time.Time) (domain.ResponseOutcome, error) {
	outcome := domain.ResponseOutcome{
		Mailbox:   p.cfg.Mailbox,
		UID:       msg.UID,
		MessageID: msg.MessageID,
		Sender:    msg.From,
		Subject:   msg.Subject,
	}

	cls, clsErr := p.classifier.Classify(ctx, msg)
	outcome.Classification = cls
	if clsErr != nil {
		slog.Warn("classification_failed", "mailbox", p.cfg.Mailbox, "uid", msg.UID, "error", clsErr)
	}

	switch {
	case cls.NeedsEscalation:
		reason := domain.ReasonFlagged
		if clsErr != nil {
			reason = domain.ReasonClassificationFailed
		}
		return p.escalate(ctx, outcome, msg, reason, cls.Reason, "")
	case cls.IsSpam():
		outcome.Disposition = domain.DispositionDropped
		outcome.RecordedAt = p.now()
		return outcome, nil
	}

	knowledge := p.knowledge.FetchContext(ctx)
	reply, err := p.generator.Generate(ctx, knowledge, msg)
	if err != nil {
		slog.Warn("generation_failed", "mailbox", p.cfg.Mailbox, "uid", msg.UID, "error", err)
		return p.escalate(ctx, outcome, msg, domain.ReasonGenerationFailed, err.Error(), "")
	}

	if err := p.dispatcher.Send(ctx, msg, reply); err != nil {
		slog.Warn("dispatch_failed", "mailbox", p.cfg.Mailbox, "uid", msg.UID, "error", err)
		return p.escalate(ctx, outcome, msg, domain.ReasonDispatchFailed, err.Error(), reply)
	}

	respondedAt := p.now()
	elapsedFrom := msg.ReceivedAt
	if elapsedFrom.IsZero() || elapsedFrom.After(respondedAt) {
		elapsedFrom = start
	}
	responseMs := respondedAt.Sub(elapsedFrom).Milliseconds()

	outcome.Disposition = domain.DispositionReplied
	outcome.ResponseText = reply
	outcome.RespondedAt = &respondedAt
	outcome.ResponseTimeMs = &responseMs
	outcome.RecordedAt = respondedAt
	return outcome, nil
}

func (p *Pipeline) escalate(
	ctx context.Context,
	outcome domain.ResponseOutcome,
	msg domain.Message,
	reason domain.EscalationReason,
	detail, draft string,
) (domain.ResponseOutcome, error) {
	req := EscalationRequest{
		Message:        msg,
		Classification: outcome.Classification,
		Reason:         reason,
		Detail:         detail,
		DraftResponse:  draft,
	}

	var esc domain.Escalation
	call := func(ctx context.Context) error {
		var err error
		esc, err = p.escalations.Escalate(ctx, req)
		return err
	}
	if err := p.persist.Retry(ctx, "escalation.create", call, retryUnlessCancelled); err != nil {
		return domain.ResponseOutcome{}, err
	}

	outcome.Classification.NeedsEscalation = true
	outcome.Disposition = domain.DispositionEscalated
	outcome.EscalationID = esc.ID
	outcome.RecordedAt = p.now()
	return outcome, nil
}

func retryUnlessCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
