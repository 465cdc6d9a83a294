package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/infrastructure/mailbox/mimeparse"
)

// Extractor handles UTF-8 text formats. HTML documents are flattened.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("document %s is not valid utf-8 text", doc.Filename)
	}
	text := string(raw)
	if isHTML(doc) {
		text = mimeparse.HTMLToText(text)
	}
	return strings.TrimSpace(text), nil
}

func isHTML(doc domain.KnowledgeDocument) bool {
	switch doc.Extension() {
	case ".html", ".htm":
		return true
	}
	return strings.HasPrefix(doc.MimeType, "text/html")
}
