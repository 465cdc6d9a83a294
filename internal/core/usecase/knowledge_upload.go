package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

// KnowledgeUploadUseCase stores a reference document and registers it in
// the catalog so the next drain pass picks it up.
type KnowledgeUploadUseCase struct {
	catalog ports.KnowledgeCatalog
	storage ports.ObjectStorage
	bucket  string
}

func NewKnowledgeUploadUseCase(catalog ports.KnowledgeCatalog, storage ports.ObjectStorage, bucket string) *KnowledgeUploadUseCase {
	return &KnowledgeUploadUseCase{
		catalog: catalog,
		storage: storage,
		bucket:  bucket,
	}
}

func (uc *KnowledgeUploadUseCase) Upload(
	ctx context.Context,
	owner, filename, mimeType string,
	body io.Reader,
) (domain.KnowledgeDocument, error) {
	if strings.TrimSpace(owner) == "" {
		return domain.KnowledgeDocument{}, domain.WrapError(domain.ErrInvalidInput, "upload knowledge", errors.New("owner is required"))
	}
	if strings.TrimSpace(filename) == "" {
		return domain.KnowledgeDocument{}, domain.WrapError(domain.ErrInvalidInput, "upload knowledge", errors.New("filename is required"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if err := uc.storage.Put(ctx, uc.bucket, storageKey, body); err != nil {
		return domain.KnowledgeDocument{}, fmt.Errorf("save to object storage: %w", err)
	}

	doc := domain.KnowledgeDocument{
		ID:         id,
		Owner:      owner,
		StorageKey: storageKey,
		Filename:   filename,
		MimeType:   mimeType,
	}
	if err := uc.catalog.AddKnowledgeDocument(ctx, doc); err != nil {
		return domain.KnowledgeDocument{}, fmt.Errorf("register knowledge document: %w", err)
	}
	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
