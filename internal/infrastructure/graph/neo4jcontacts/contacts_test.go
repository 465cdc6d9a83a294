package neo4jcontacts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type queryCall struct {
	query  string
	params map[string]any
}

type runnerFake struct {
	calls  []queryCall
	result *neo4j.EagerResult
	err    error
}

func (r *runnerFake) run(_ context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	r.calls = append(r.calls, queryCall{query: query, params: params})
	if r.err != nil {
		return nil, r.err
	}
	if r.result == nil {
		return &neo4j.EagerResult{}, nil
	}
	return r.result, nil
}

func TestRecordContactMergesNormalizedSender(t *testing.T) {
	fake := &runnerFake{}
	g := &ContactGraph{run: fake.run}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := g.RecordContact(context.Background(), " Alice@Example.com ", "inbox:42", at); err != nil {
		t.Fatalf("RecordContact() error = %v", err)
	}
	if len(fake.calls) != 1 || !strings.Contains(fake.calls[0].query, "MERGE (s)-[:SENT]->(m)") {
		t.Fatalf("unexpected calls %+v", fake.calls)
	}
	if fake.calls[0].params["sender"] != "alice@example.com" {
		t.Fatalf("expected normalized sender, got %v", fake.calls[0].params["sender"])
	}
}

func TestCountRecentContactsReadsCount(t *testing.T) {
	fake := &runnerFake{result: &neo4j.EagerResult{
		Keys:    []string{"contacts"},
		Records: []*neo4j.Record{{Keys: []string{"contacts"}, Values: []any{int64(3)}}},
	}}
	g := &ContactGraph{run: fake.run}

	n, err := g.CountRecentContacts(context.Background(), "a@example.com", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountRecentContacts() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestCountRecentContactsEmptyResult(t *testing.T) {
	g := &ContactGraph{run: (&runnerFake{}).run}
	n, err := g.CountRecentContacts(context.Background(), "a@example.com", time.Now())
	if err != nil || n != 0 {
		t.Fatalf("CountRecentContacts() = %d, %v", n, err)
	}
}

func TestCountRecentContactsErrorIsTemporary(t *testing.T) {
	g := &ContactGraph{run: (&runnerFake{err: errors.New("connection reset")}).run}
	_, err := g.CountRecentContacts(context.Background(), "a@example.com", time.Now())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
