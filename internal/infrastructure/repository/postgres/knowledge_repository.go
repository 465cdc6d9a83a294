package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type KnowledgeRepository struct {
	db *sql.DB
}

func NewKnowledgeRepository(db *sql.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

func (r *KnowledgeRepository) ListKnowledgeDocuments(ctx context.Context, owner string) ([]domain.KnowledgeDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner, storage_key, filename, mime_type
FROM knowledge_documents
WHERE owner = $1
ORDER BY created_at, id
`, owner)
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.KnowledgeDocument, 0)
	for rows.Next() {
		var doc domain.KnowledgeDocument
		if err := rows.Scan(&doc.ID, &doc.Owner, &doc.StorageKey, &doc.Filename, &doc.MimeType); err != nil {
			return nil, fmt.Errorf("scan knowledge document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge documents: %w", err)
	}
	return out, nil
}

func (r *KnowledgeRepository) AddKnowledgeDocument(ctx context.Context, doc domain.KnowledgeDocument) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO knowledge_documents (id, owner, storage_key, filename, mime_type)
VALUES ($1, $2, $3, $4, $5)
`, doc.ID, doc.Owner, doc.StorageKey, doc.Filename, doc.MimeType)
	if err != nil {
		return fmt.Errorf("insert knowledge document: %w", err)
	}
	return nil
}
