package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type WatermarkRepository struct {
	db *sql.DB
}

func NewWatermarkRepository(db *sql.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// GetWatermark returns 0 for a mailbox that has never been processed.
func (r *WatermarkRepository) GetWatermark(ctx context.Context, mailbox string) (uint32, error) {
	var lastUID int64
	err := r.db.QueryRowContext(ctx, `SELECT last_uid FROM mailbox_watermarks WHERE mailbox = $1`, mailbox).Scan(&lastUID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark: %w", err)
	}
	return uint32(lastUID), nil
}

// AdvanceWatermark raises the stored value to uid. A lower uid is a no-op.
func (r *WatermarkRepository) AdvanceWatermark(ctx context.Context, mailbox string, uid uint32) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO mailbox_watermarks (mailbox, last_uid, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (mailbox) DO UPDATE
SET last_uid = EXCLUDED.last_uid, updated_at = EXCLUDED.updated_at
WHERE mailbox_watermarks.last_uid < EXCLUDED.last_uid
`, mailbox, int64(uid), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}
