package usecase

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// Retrier runs fn with bounded retries while retryable reports true.
type Retrier interface {
	Retry(ctx context.Context, operation string, fn func(context.Context) error, retryable func(error) bool) error
}

type DispatcherConfig struct {
	Mailbox  string
	From     string
	MinDelay time.Duration
}

// Dispatcher sends replies and enforces the pause between sends.
type Dispatcher struct {
	transport ports.MailTransport
	guard     ports.SendGuard
	retrier   Retrier
	cfg       DispatcherConfig
	observer  Observer
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	transport ports.MailTransport,
	guard ports.SendGuard,
	retrier Retrier,
	cfg DispatcherConfig,
	observer Observer,
) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		guard:     guard,
		retrier:   retrier,
		cfg:       cfg,
		observer:  observerOrNop(observer),
		sleep:     sleepContext,
	}
}

// Send delivers reply to the sender of msg. A reply the send guard marks as
// sent is not sent again; a reservation left pending by an interrupted run is
// sent again.
func (d *Dispatcher) Send(ctx context.Context, msg domain.Message, reply string) error {
	if strings.TrimSpace(msg.From) == "" {
		return domain.WrapError(domain.ErrDispatch, "dispatch reply", errors.New("message has no sender address"))
	}

	key := d.guardKey(msg)
	reserved := d.reserve(ctx, key, msg.UID)
	if !reserved {
		slog.Warn("reply_already_sent", "mailbox", d.cfg.Mailbox, "uid", msg.UID, "guard_key", key)
		d.observer.ObserveDispatch("duplicate_skipped")
		return nil
	}

	email := domain.OutboundEmail{
		From:       d.cfg.From,
		To:         msg.From,
		Subject:    ReplySubject(msg.Subject),
		Text:       reply,
		HTML:       TextToHTML(reply),
		InReplyTo:  msg.MessageID,
		References: msg.MessageID,
	}

	send := func(ctx context.Context) error {
		return d.transport.Send(ctx, email)
	}
	if err := d.retrier.Retry(ctx, "dispatch.send", send, isTransientSendError); err != nil {
		d.release(key, msg.UID)
		d.observer.ObserveDispatch("failed")
		return domain.WrapError(domain.ErrDispatch, "dispatch reply", err)
	}

	d.markSent(key, msg.UID)
	d.observer.ObserveDispatch("sent")
	slog.Info("reply_sent", "mailbox", d.cfg.Mailbox, "uid", msg.UID, "to", msg.From)
	return nil
}

// Pause holds the drain loop for the minimum inter-send delay.
func (d *Dispatcher) Pause(ctx context.Context) error {
	return d.sleep(ctx, d.cfg.MinDelay)
}

func (d *Dispatcher) guardKey(msg domain.Message) string {
	return "autoreply:sent:" + msg.Key(d.cfg.Mailbox)
}

func (d *Dispatcher) reserve(ctx context.Context, key string, uid uint32) bool {
	if d.guard == nil {
		return true
	}
	ok, err := d.guard.Reserve(ctx, key)
	if err != nil {
		slog.Warn("send_guard_unavailable", "mailbox", d.cfg.Mailbox, "uid", uid, "error", err)
		return true
	}
	return ok
}

// markSent runs after the server accepted the reply, so it must not be cut
// short by the caller's deadline.
func (d *Dispatcher) markSent(key string, uid uint32) {
	if d.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.guard.MarkSent(ctx, key); err != nil {
		slog.Warn("send_guard_mark_failed", "mailbox", d.cfg.Mailbox, "uid", uid, "error", err)
	}
}

func (d *Dispatcher) release(key string, uid uint32) {
	if d.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.guard.Release(ctx, key); err != nil {
		slog.Warn("send_guard_release_failed", "mailbox", d.cfg.Mailbox, "uid", uid, "error", err)
	}
}

func isTransientSendError(err error) bool {
	return domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrConnection)
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if trimmed == "" {
		return "Re: your message"
	}
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// TextToHTML renders plain text as escaped HTML paragraphs.
func TextToHTML(text string) string {
	paragraphs := strings.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
