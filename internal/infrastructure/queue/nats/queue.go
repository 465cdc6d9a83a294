package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/resilience"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// EscalationPublisher announces new escalations on a NATS subject for the
// operations channel.
type EscalationPublisher struct {
	conn     publisher
	closer   func()
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

// EscalationEvent is the payload published for every new escalation.
type EscalationEvent struct {
	Type         string    `json:"type"`
	EscalationID string    `json:"escalation_id"`
	Mailbox      string    `json:"mailbox"`
	UID          uint32    `json:"uid"`
	MessageID    string    `json:"message_id,omitempty"`
	Sender       string    `json:"sender"`
	Subject      string    `json:"subject"`
	Reason       string    `json:"reason"`
	Priority     string    `json:"priority"`
	Score        int       `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

func Connect(url, subject string, options Options) (*EscalationPublisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("inbox-autoresponder"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := newPublisher(conn, subject, options.ResilienceExecutor)
	p.closer = func() {
		if err := conn.FlushTimeout(5 * time.Second); err != nil {
			slog.Warn("nats_flush_failed", "error", err)
		}
		conn.Close()
	}
	return p, nil
}

func newPublisher(conn publisher, subject string, executor *resilience.Executor) *EscalationPublisher {
	return &EscalationPublisher{conn: conn, subject: subject, executor: executor}
}

func (p *EscalationPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

func (p *EscalationPublisher) NotifyEscalation(ctx context.Context, esc domain.Escalation) error {
	payload, err := json.Marshal(EscalationEvent{
		Type:         "escalation.created",
		EscalationID: esc.ID,
		Mailbox:      esc.Mailbox,
		UID:          esc.UID,
		MessageID:    esc.MessageID,
		Sender:       esc.Sender,
		Subject:      esc.Subject,
		Reason:       string(esc.Reason),
		Priority:     string(esc.Priority),
		Score:        esc.Score,
		CreatedAt:    esc.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal escalation event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishError(err)
	}
	return nil
}
