package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/extractor/office"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/extractor/plaintext"
)

// Router picks an extractor by file extension, then by MIME type.
type Router struct {
	byExtension map[string]ports.TextExtractor
	byMIME      map[string]ports.TextExtractor
}

func NewRouter() *Router {
	text := plaintext.NewExtractor()
	pdf := pdftext.NewExtractor()
	sheet := office.NewSpreadsheetExtractor()
	word := office.NewDocumentExtractor()

	return &Router{
		byExtension: map[string]ports.TextExtractor{
			".txt":  text,
			".md":   text,
			".csv":  text,
			".json": text,
			".html": text,
			".htm":  text,
			".pdf":  pdf,
			".xlsx": sheet,
			".docx": word,
		},
		byMIME: map[string]ports.TextExtractor{
			"text/plain":       text,
			"text/markdown":    text,
			"text/csv":         text,
			"text/html":        text,
			"application/json": text,
			"application/pdf":  pdf,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       sheet,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": word,
		},
	}
}

func (r *Router) Extract(ctx context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	if ex, ok := r.byExtension[doc.Extension()]; ok {
		return ex.Extract(ctx, doc, raw)
	}
	mimeType, _, _ := strings.Cut(strings.ToLower(doc.MimeType), ";")
	if ex, ok := r.byMIME[strings.TrimSpace(mimeType)]; ok {
		return ex.Extract(ctx, doc, raw)
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("unsupported document type %q (%s)", doc.Filename, doc.MimeType))
}
