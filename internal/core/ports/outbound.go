package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// TokenSource resolves a fresh mailbox access token before each connection.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// MailboxDialer opens an authenticated, read-only mailbox session.
type MailboxDialer interface {
	Dial(ctx context.Context, accessToken string) (MailboxSession, error)
}

// MailboxSession is one live mailbox connection.
type MailboxSession interface {
	// WaitForNewMail blocks until the server reports new mail. A non-nil
	// error means the connection is no longer usable.
	WaitForNewMail(ctx context.Context) error
	SearchUnseen(ctx context.Context, afterUID uint32) ([]uint32, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// MessageParser turns a raw RFC 5322 message into a domain message.
type MessageParser interface {
	Parse(uid uint32, raw []byte) (domain.Message, error)
}

// Completer performs one completion call with one credential.
type Completer interface {
	Complete(ctx context.Context, cred domain.Credential, req domain.CompletionRequest) (string, error)
}

// ObjectStorage stores knowledge documents by bucket and key.
type ObjectStorage interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data io.Reader) error
}

// TextExtractor extracts plain text from a knowledge document payload.
type TextExtractor interface {
	Extract(ctx context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error)
}

// WatermarkStore persists the per-mailbox processing watermark.
// AdvanceWatermark must never lower a stored value.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, mailbox string) (uint32, error)
	AdvanceWatermark(ctx context.Context, mailbox string, uid uint32) error
}

// OutcomeStore persists one outcome per processed message.
type OutcomeStore interface {
	PutOutcome(ctx context.Context, outcome domain.ResponseOutcome) error
	ListOutcomes(ctx context.Context, limit int) ([]domain.ResponseOutcome, error)
	CountOutcomes(ctx context.Context, since time.Time) ([]domain.CategoryCount, error)
}

// EscalationStore persists escalations. PutEscalation is idempotent per
// mailbox UID: when a record exists it returns the existing id with
// created=false.
type EscalationStore interface {
	PutEscalation(ctx context.Context, esc domain.Escalation) (id string, created bool, err error)
	GetEscalation(ctx context.Context, id string) (domain.Escalation, error)
	ListEscalations(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error)
	// UpdateEscalation writes next only while the stored record still
	// matches prev, else it fails with domain.ErrConflict.
	UpdateEscalation(ctx context.Context, prev, next domain.Escalation) error
}

// KnowledgeCatalog lists reference documents by owner.
type KnowledgeCatalog interface {
	ListKnowledgeDocuments(ctx context.Context, owner string) ([]domain.KnowledgeDocument, error)
	AddKnowledgeDocument(ctx context.Context, doc domain.KnowledgeDocument) error
}

// ContactHistory counts earlier messages from the same sender.
type ContactHistory interface {
	RecordContact(ctx context.Context, sender, messageKey string, at time.Time) error
	CountRecentContacts(ctx context.Context, sender string, since time.Time) (int, error)
}

// MailTransport sends one outbound email.
type MailTransport interface {
	Send(ctx context.Context, email domain.OutboundEmail) error
}

// SendGuard tracks a reply per message as pending or sent so a crash between
// send and outcome write does not produce a second reply. Reserve returns
// false only when the reply was already marked sent.
type SendGuard interface {
	Reserve(ctx context.Context, key string) (bool, error)
	MarkSent(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// EscalationNotifier tells humans about a new escalation.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, esc domain.Escalation) error
}
