package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", doc.Filename, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", doc.Filename, err)
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("read pdf text %s: %w", doc.Filename, err)
	}
	return strings.TrimSpace(b.String()), nil
}
