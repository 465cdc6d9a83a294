package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type OutcomeRepository struct {
	db *sql.DB
}

func NewOutcomeRepository(db *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// PutOutcome is idempotent per mailbox UID: replaying a message after a
// crash keeps the first record.
func (r *OutcomeRepository) PutOutcome(ctx context.Context, o domain.ResponseOutcome) error {
	classification, err := json.Marshal(o.Classification)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO response_outcomes (
	mailbox, uid, message_id, sender, subject, category, needs_escalation, classification,
	disposition, response_text, responded_at, response_time_ms, escalation_id, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (mailbox, uid) DO NOTHING
`,
		o.Mailbox, int64(o.UID), o.MessageID, o.Sender, o.Subject, string(o.Classification.Category),
		o.Classification.NeedsEscalation, classification, string(o.Disposition), o.ResponseText,
		o.RespondedAt, o.ResponseTimeMs, o.EscalationID, o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (r *OutcomeRepository) ListOutcomes(ctx context.Context, limit int) ([]domain.ResponseOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT mailbox, uid, message_id, sender, subject, classification, disposition,
	response_text, responded_at, response_time_ms, escalation_id, recorded_at
FROM response_outcomes
ORDER BY recorded_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ResponseOutcome, 0)
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func (r *OutcomeRepository) CountOutcomes(ctx context.Context, since time.Time) ([]domain.CategoryCount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT category, disposition, COUNT(*)
FROM response_outcomes
WHERE recorded_at >= $1
GROUP BY category, disposition
ORDER BY category, disposition
`, since)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CategoryCount, 0)
	for rows.Next() {
		var category, disposition string
		var count int
		if err := rows.Scan(&category, &disposition, &count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		out = append(out, domain.CategoryCount{
			Category:    domain.Category(category),
			Disposition: domain.Disposition(disposition),
			Count:       count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return out, nil
}

// RecordContact is satisfied by PutOutcome, which already stores the sender.
func (r *OutcomeRepository) RecordContact(context.Context, string, string, time.Time) error {
	return nil
}

// CountRecentContacts counts earlier outcomes from sender since the cutoff.
func (r *OutcomeRepository) CountRecentContacts(ctx context.Context, sender string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM response_outcomes WHERE sender = $1 AND recorded_at >= $2
`, sender, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent contacts: %w", err)
	}
	return count, nil
}

func scanOutcome(row rowScanner) (domain.ResponseOutcome, error) {
	var (
		o              domain.ResponseOutcome
		uid            int64
		classification []byte
		disposition    string
		respondedAt    sql.NullTime
		responseTimeMs sql.NullInt64
	)
	err := row.Scan(
		&o.Mailbox, &uid, &o.MessageID, &o.Sender, &o.Subject, &classification, &disposition,
		&o.ResponseText, &respondedAt, &responseTimeMs, &o.EscalationID, &o.RecordedAt,
	)
	if err != nil {
		return domain.ResponseOutcome{}, err
	}
	if err := json.Unmarshal(classification, &o.Classification); err != nil {
		return domain.ResponseOutcome{}, fmt.Errorf("unmarshal classification: %w", err)
	}
	o.UID = uint32(uid)
	o.Disposition = domain.Disposition(disposition)
	if respondedAt.Valid {
		t := respondedAt.Time
		o.RespondedAt = &t
	}
	if responseTimeMs.Valid {
		ms := responseTimeMs.Int64
		o.ResponseTimeMs = &ms
	}
	return o, nil
}
