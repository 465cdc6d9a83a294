package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

type KnowledgeConfig struct {
	Owner            string
	Bucket           string
	DocumentCap      int
	TotalCap         int
	TruncationMarker string
}

// KnowledgeRetriever builds the reference context injected into reply
// prompts. The result is cached until Invalidate is called.
type KnowledgeRetriever struct {
	catalog   ports.KnowledgeCatalog
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	cfg       KnowledgeConfig

	mu     sync.Mutex
	cached *string
}

func NewKnowledgeRetriever(
	catalog ports.KnowledgeCatalog,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	cfg KnowledgeConfig,
) *KnowledgeRetriever {
	if cfg.TruncationMarker == "" {
		cfg.TruncationMarker = domain.DefaultTruncationMarker
	}
	return &KnowledgeRetriever{
		catalog:   catalog,
		storage:   storage,
		extractor: extractor,
		cfg:       cfg,
	}
}

// FetchContext returns the concatenated, truncated text of every knowledge
// document for the configured owner. It returns "" when nothing usable exists.
func (r *KnowledgeRetriever) FetchContext(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return *r.cached
	}

	docs, err := r.catalog.ListKnowledgeDocuments(ctx, r.cfg.Owner)
	if err != nil {
		// Not cached: the next message retries the listing.
		slog.Warn("knowledge_list_failed", "owner", r.cfg.Owner, "error", err)
		return ""
	}

	var b strings.Builder
	for _, doc := range docs {
		text := r.documentText(ctx, doc)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "--- Document: %s ---\n%s\n\n", doc.Filename, text)
	}

	joined := strings.TrimSpace(b.String())
	joined = domain.Truncate(joined, r.cfg.TotalCap, r.cfg.TruncationMarker)
	r.cached = &joined

	slog.Info("knowledge_context_built",
		"owner", r.cfg.Owner,
		"documents", len(docs),
		"chars", len(joined),
	)
	return joined
}

// Invalidate drops the cached context so the next call rebuilds it.
func (r *KnowledgeRetriever) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func (r *KnowledgeRetriever) documentText(ctx context.Context, doc domain.KnowledgeDocument) string {
	raw, err := r.storage.Get(ctx, r.cfg.Bucket, doc.StorageKey)
	if err != nil {
		slog.Warn("knowledge_fetch_failed", "document_id", doc.ID, "filename", doc.Filename, "error", err)
		return ""
	}
	text, err := r.extractor.Extract(ctx, doc, raw)
	if err != nil {
		slog.Warn("knowledge_extract_failed", "document_id", doc.ID, "filename", doc.Filename, "mime_type", doc.MimeType, "error", err)
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return domain.Truncate(text, r.cfg.DocumentCap, r.cfg.TruncationMarker)
}
