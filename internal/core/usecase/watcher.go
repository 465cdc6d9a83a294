package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

type WatcherState string

const (
	StateDisconnected WatcherState = "disconnected"
	StateConnecting   WatcherState = "connecting"
	StateReady        WatcherState = "ready"
	StateListening    WatcherState = "listening"
	StateError        WatcherState = "error"
	StateEnded        WatcherState = "ended"
)

// Backoff yields the delay before the next reconnect attempt.
type Backoff interface {
	Next() time.Duration
	Reset()
}

// MailboxWatcher keeps one live mailbox session and feeds new messages into
// the queue. It holds no UID state of its own.
type MailboxWatcher struct {
	mailbox  string
	tokens   ports.TokenSource
	dialer   ports.MailboxDialer
	ingestor *MessageIngestor
	backoff  Backoff
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	state WatcherState
}

func NewMailboxWatcher(
	mailbox string,
	tokens ports.TokenSource,
	dialer ports.MailboxDialer,
	ingestor *MessageIngestor,
	backoff Backoff,
	observer Observer,
) *MailboxWatcher {
	return &MailboxWatcher{
		mailbox:  mailbox,
		tokens:   tokens,
		dialer:   dialer,
		ingestor: ingestor,
		backoff:  backoff,
		observer: observerOrNop(observer),
		sleep:    sleepContext,
		state:    StateDisconnected,
	}
}

func (w *MailboxWatcher) State() WatcherState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Run connects, listens and reconnects until ctx is cancelled. Messages are
// sent to out in ascending UID order. Run returns nil after a clean shutdown.
func (w *MailboxWatcher) Run(ctx context.Context, out chan<- domain.Message) error {
	defer w.setState(StateEnded)

	for {
		if ctx.Err() != nil {
			return nil
		}
		err := w.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}

		w.setState(StateError)
		w.observer.ObserveReconnect()
		delay := w.backoff.Next()
		slog.Warn("mailbox_connection_lost",
			"mailbox", w.mailbox,
			"error", err,
			"retry_in_ms", delay.Milliseconds(),
		)
		if err := w.sleep(ctx, delay); err != nil {
			return nil
		}
		w.setState(StateDisconnected)
	}
}

// session runs one connection from token resolution to failure.
func (w *MailboxWatcher) session(ctx context.Context, out chan<- domain.Message) error {
	w.setState(StateConnecting)

	token, err := w.tokens.AccessToken(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrAuth, "resolve access token", err)
	}

	session, err := w.dialer.Dial(ctx, token)
	if err != nil {
		return fmt.Errorf("dial mailbox: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			slog.Debug("mailbox_close_failed", "mailbox", w.mailbox, "error", cerr)
		}
	}()

	w.setState(StateReady)
	w.backoff.Reset()
	slog.Info("mailbox_connected", "mailbox", w.mailbox)

	// Mail that arrived while disconnected.
	if err := w.drainNew(ctx, session, out); err != nil {
		return err
	}

	w.setState(StateListening)
	for {
		if err := session.WaitForNewMail(ctx); err != nil {
			return err
		}
		if err := w.drainNew(ctx, session, out); err != nil {
			return err
		}
	}
}

func (w *MailboxWatcher) drainNew(ctx context.Context, session ports.MailboxSession, out chan<- domain.Message) error {
	messages, err := w.ingestor.Ingest(ctx, session)
	if err != nil {
		return err
	}
	for msg, err := range messages {
		if err != nil {
			return err
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *MailboxWatcher) setState(next WatcherState) {
	w.mu.Lock()
	prev := w.state
	if prev == StateEnded {
		w.mu.Unlock()
		return
	}
	w.state = next
	w.mu.Unlock()

	if prev != next {
		w.observer.ObserveWatcherState(string(next))
		slog.Debug("watcher_state_changed", "mailbox", w.mailbox, "from", prev, "to", next)
	}
}
