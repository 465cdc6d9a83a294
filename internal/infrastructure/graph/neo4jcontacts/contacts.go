package neo4jcontacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type queryFunc func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)

// ContactGraph keeps (:Sender)-[:SENT]->(:Message) edges and answers
// repeat-contact questions from them.
type ContactGraph struct {
	run    queryFunc
	driver neo4j.DriverWithContext
}

func New(ctx context.Context, uri, user, password, database string) (*ContactGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, domain.WrapError(domain.ErrConnection, "neo4j connect", err)
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(database))
	}
	g := &ContactGraph{driver: driver}
	g.run = func(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
		return neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
	}
	return g, nil
}

func (g *ContactGraph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}

// EnsureConstraints creates the uniqueness constraints the MERGE statements
// rely on.
func (g *ContactGraph) EnsureConstraints(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE CONSTRAINT sender_address IF NOT EXISTS FOR (s:Sender) REQUIRE s.address IS UNIQUE`,
		`CREATE CONSTRAINT message_id IF NOT EXISTS FOR (m:Message) REQUIRE m.id IS UNIQUE`,
	} {
		if _, err := g.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure neo4j constraint: %w", err)
		}
	}
	return nil
}

func (g *ContactGraph) RecordContact(ctx context.Context, sender, messageKey string, at time.Time) error {
	_, err := g.run(ctx, `
MERGE (s:Sender {address: $sender})
MERGE (m:Message {id: $message_key})
ON CREATE SET m.at = $at
MERGE (s)-[:SENT]->(m)
`, map[string]any{
		"sender":      normalize(sender),
		"message_key": messageKey,
		"at":          at.UTC(),
	})
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "record contact", err)
	}
	return nil
}

func (g *ContactGraph) CountRecentContacts(ctx context.Context, sender string, since time.Time) (int, error) {
	result, err := g.run(ctx, `
MATCH (:Sender {address: $sender})-[:SENT]->(m:Message)
WHERE m.at >= $since
RETURN count(m) AS contacts
`, map[string]any{
		"sender": normalize(sender),
		"since":  since.UTC(),
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "count recent contacts", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	count, _, err := neo4j.GetRecordValue[int64](result.Records[0], "contacts")
	if err != nil {
		return 0, fmt.Errorf("read contacts count: %w", err)
	}
	return int(count), nil
}

func normalize(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
