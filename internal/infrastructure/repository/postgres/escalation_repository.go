package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type EscalationRepository struct {
	db *sql.DB
}

func NewEscalationRepository(db *sql.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

const escalationColumns = `id, mailbox, uid, message_id, sender, subject, reason, detail, factors, score,
	priority, status, assigned_to, draft_response, created_at, updated_at`

// PutEscalation inserts esc unless the message already has an escalation,
// in which case the existing id is returned with created=false.
func (r *EscalationRepository) PutEscalation(ctx context.Context, esc domain.Escalation) (string, bool, error) {
	factors, err := json.Marshal(esc.Factors)
	if err != nil {
		return "", false, fmt.Errorf("marshal factors: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
INSERT INTO escalations (`+escalationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (mailbox, uid) DO NOTHING
RETURNING id
`,
		esc.ID, esc.Mailbox, int64(esc.UID), esc.MessageID, esc.Sender, esc.Subject, string(esc.Reason), esc.Detail,
		factors, esc.Score, string(esc.Priority), string(esc.Status), esc.AssignedTo, esc.DraftResponse,
		esc.CreatedAt, esc.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("insert escalation: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
SELECT id FROM escalations WHERE mailbox = $1 AND uid = $2
`, esc.Mailbox, int64(esc.UID)).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("load existing escalation: %w", err)
	}
	return id, false, nil
}

func (r *EscalationRepository) GetEscalation(ctx context.Context, id string) (domain.Escalation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)
	esc, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Escalation{}, domain.WrapError(domain.ErrNotFound, "get escalation", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return domain.Escalation{}, fmt.Errorf("scan escalation: %w", err)
	}
	return esc, nil
}

// ListEscalations orders by priority tier, newest first within a tier. An
// empty status lists every escalation.
func (r *EscalationRepository) ListEscalations(ctx context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+escalationColumns+`
FROM escalations
WHERE ($1 = '' OR status = $1)
ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at DESC
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Escalation, 0)
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalations: %w", err)
	}
	return out, nil
}

// UpdateEscalation is a compare-and-set on status and updated_at so two
// operators acting on the same escalation cannot overwrite each other.
func (r *EscalationRepository) UpdateEscalation(ctx context.Context, prev, next domain.Escalation) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE escalations
SET status = $2, assigned_to = $3, updated_at = $4
WHERE id = $1 AND status = $5 AND updated_at = $6
`, next.ID, string(next.Status), next.AssignedTo, next.UpdatedAt, string(prev.Status), prev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update escalation rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM escalations WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check escalation: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrNotFound, "update escalation", fmt.Errorf("id=%s", next.ID))
	}
	return domain.WrapError(domain.ErrConflict, "update escalation", fmt.Errorf("escalation %s changed concurrently", next.ID))
}

func scanEscalation(row rowScanner) (domain.Escalation, error) {
	var (
		esc                      domain.Escalation
		uid                      int64
		reason, priority, status string
		factors                  []byte
		assignedTo               sql.NullString
	)
	err := row.Scan(
		&esc.ID, &esc.Mailbox, &uid, &esc.MessageID, &esc.Sender, &esc.Subject, &reason, &esc.Detail,
		&factors, &esc.Score, &priority, &status, &assignedTo, &esc.DraftResponse,
		&esc.CreatedAt, &esc.UpdatedAt,
	)
	if err != nil {
		return domain.Escalation{}, err
	}
	if err := json.Unmarshal(factors, &esc.Factors); err != nil {
		return domain.Escalation{}, fmt.Errorf("unmarshal factors: %w", err)
	}
	esc.UID = uint32(uid)
	esc.Reason = domain.EscalationReason(reason)
	esc.Priority = domain.Priority(priority)
	esc.Status = domain.EscalationStatus(status)
	if assignedTo.Valid {
		v := assignedTo.String
		esc.AssignedTo = &v
	}
	return esc, nil
}
