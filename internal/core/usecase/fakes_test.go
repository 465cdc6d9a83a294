package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// completionFake answers completions from a script, one entry per call.
type completionFake struct {
	mu      sync.Mutex
	replies []completionReply
	calls   []domain.CompletionRequest
	// onCall runs before each reply is returned.
	onCall  func()
}

type completionReply struct {
	text string
	err  error
}

func (f *completionFake) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.onCall != nil {
		f.onCall()
	}
	if len(f.replies) == 0 {
		return "", errors.New("unexpected completion call")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next.text, next.err
}

type contactsFake struct {
	count    int
	err      error
	recorded []string
}

func (f *contactsFake) RecordContact(_ context.Context, sender, _ string, _ time.Time) error {
	f.recorded = append(f.recorded, sender)
	return nil
}

func (f *contactsFake) CountRecentContacts(context.Context, string, time.Time) (int, error) {
	return f.count, f.err
}

type watermarkFake struct {
	mu       sync.Mutex
	value    uint32
	getErr   error
	failures int
	advances []uint32
}

func (f *watermarkFake) GetWatermark(context.Context, string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.getErr
}

func (f *watermarkFake) AdvanceWatermark(_ context.Context, _ string, uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("db unavailable")
	}
	f.advances = append(f.advances, uid)
	if uid > f.value {
		f.value = uid
	}
	return nil
}

type outcomeStoreFake struct {
	mu       sync.Mutex
	outcomes []domain.ResponseOutcome
	err      error
	// events is shared with other fakes to assert ordering.
	events *[]string
}

func (f *outcomeStoreFake) PutOutcome(_ context.Context, outcome domain.ResponseOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.outcomes = append(f.outcomes, outcome)
	if f.events != nil {
		*f.events = append(*f.events, "outcome")
	}
	return nil
}

func (f *outcomeStoreFake) ListOutcomes(_ context.Context, limit int) ([]domain.ResponseOutcome, error) {
	if limit > len(f.outcomes) {
		limit = len(f.outcomes)
	}
	return f.outcomes[:limit], nil
}

func (f *outcomeStoreFake) CountOutcomes(context.Context, time.Time) ([]domain.CategoryCount, error) {
	return nil, nil
}

// escalationStoreFake keys escalations by mailbox and UID.
type escalationStoreFake struct {
	mu        sync.Mutex
	byMessage map[string]domain.Escalation
	byID      map[string]domain.Escalation
	putErr    error
	listLimit int
}

func newEscalationStoreFake() *escalationStoreFake {
	return &escalationStoreFake{
		byMessage: make(map[string]domain.Escalation),
		byID:      make(map[string]domain.Escalation),
	}
}

func (f *escalationStoreFake) PutEscalation(_ context.Context, esc domain.Escalation) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", false, f.putErr
	}
	key := domain.Message{UID: esc.UID}.Key(esc.Mailbox)
	if existing, ok := f.byMessage[key]; ok {
		return existing.ID, false, nil
	}
	f.byMessage[key] = esc
	f.byID[esc.ID] = esc
	return esc.ID, true, nil
}

func (f *escalationStoreFake) GetEscalation(_ context.Context, id string) (domain.Escalation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	esc, ok := f.byID[id]
	if !ok {
		return domain.Escalation{}, domain.WrapError(domain.ErrNotFound, "get escalation", errors.New(id))
	}
	return esc, nil
}

func (f *escalationStoreFake) ListEscalations(_ context.Context, _ domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	f.listLimit = limit
	return nil, nil
}

func (f *escalationStoreFake) UpdateEscalation(_ context.Context, prev, next domain.Escalation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[next.ID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update escalation", errors.New(next.ID))
	}
	if stored.Status != prev.Status || !stored.UpdatedAt.Equal(prev.UpdatedAt) {
		return domain.WrapError(domain.ErrConflict, "update escalation", errors.New(next.ID))
	}
	f.byID[next.ID] = next
	f.byMessage[domain.Message{UID: next.UID}.Key(next.Mailbox)] = next
	return nil
}

type notifierFake struct {
	err      error
	notified []domain.Escalation
}

func (f *notifierFake) NotifyEscalation(_ context.Context, esc domain.Escalation) error {
	f.notified = append(f.notified, esc)
	return f.err
}

type transportFake struct {
	errs []error
	sent []domain.OutboundEmail
	// events is shared with other fakes to assert ordering.
	events *[]string
}

func (f *transportFake) Send(_ context.Context, email domain.OutboundEmail) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, email)
	if f.events != nil {
		*f.events = append(*f.events, "send")
	}
	return nil
}

// guardFake keeps "pending" or "sent" per key.
type guardFake struct {
	states     map[string]string
	reserveErr error
	released   []string
}

func (f *guardFake) Reserve(_ context.Context, key string) (bool, error) {
	if f.reserveErr != nil {
		return false, f.reserveErr
	}
	if f.states == nil {
		f.states = make(map[string]string)
	}
	if f.states[key] == "sent" {
		return false, nil
	}
	f.states[key] = "pending"
	return true, nil
}

func (f *guardFake) MarkSent(_ context.Context, key string) error {
	if f.states == nil {
		f.states = make(map[string]string)
	}
	f.states[key] = "sent"
	return nil
}

func (f *guardFake) Release(_ context.Context, key string) error {
	delete(f.states, key)
	f.released = append(f.released, key)
	return nil
}

// retrierFake retries up to attempts times without sleeping.
type retrierFake struct {
	attempts int
	ops      []string
}

func (f *retrierFake) Retry(ctx context.Context, op string, fn func(context.Context) error, retryable func(error) bool) error {
	attempts := f.attempts
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for i := 0; i < attempts; i++ {
		f.ops = append(f.ops, op)
		err = fn(ctx)
		if err == nil || retryable == nil || !retryable(err) {
			return err
		}
	}
	return err
}

type catalogFake struct {
	docs  []domain.KnowledgeDocument
	err   error
	calls int
	added []domain.KnowledgeDocument
}

func (f *catalogFake) ListKnowledgeDocuments(context.Context, string) ([]domain.KnowledgeDocument, error) {
	f.calls++
	return f.docs, f.err
}

func (f *catalogFake) AddKnowledgeDocument(_ context.Context, doc domain.KnowledgeDocument) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, doc)
	return nil
}

type storageFake struct {
	objects map[string][]byte
	putErr  error
}

func (f *storageFake) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get object", errors.New(key))
	}
	return data, nil
}

func (f *storageFake) Put(_ context.Context, bucket, key string, data io.Reader) error {
	if f.putErr != nil {
		return f.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+key] = raw
	return nil
}

// passthroughExtractor returns the stored bytes as text.
type passthroughExtractor struct {
	failFor string
}

func (e passthroughExtractor) Extract(_ context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	if e.failFor != "" && doc.Filename == e.failFor {
		return "", errors.New("unsupported format")
	}
	return string(raw), nil
}

// sessionFake is an in-memory mailbox.
type sessionFake struct {
	mu       sync.Mutex
	unseen   []uint32
	raw      map[uint32][]byte
	fetchErr error
	seen     []uint32
	searches []uint32
	waitErrs chan error
	closed   bool
}

func (s *sessionFake) WaitForNewMail(ctx context.Context) error {
	if s.waitErrs == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case err := <-s.waitErrs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sessionFake) SearchUnseen(_ context.Context, afterUID uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, afterUID)
	return append([]uint32(nil), s.unseen...), nil
}

func (s *sessionFake) FetchRaw(_ context.Context, uid uint32) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.raw[uid], nil
}

func (s *sessionFake) MarkSeen(_ context.Context, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, uid)
	return nil
}

func (s *sessionFake) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// parserFake treats the raw bytes as the subject; "bad" fails to parse.
type parserFake struct{}

func (parserFake) Parse(uid uint32, raw []byte) (domain.Message, error) {
	if string(raw) == "bad" {
		return domain.Message{}, domain.WrapError(domain.ErrParse, "parse message", errors.New("malformed"))
	}
	return domain.Message{UID: uid, Subject: string(raw), From: "sender@example.com"}, nil
}

var _ ports.MailboxSession = (*sessionFake)(nil)
