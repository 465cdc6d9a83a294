package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DocumentExtractor reads the body text of a .docx file.
type DocumentExtractor struct{}

func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

func (e *DocumentExtractor) Extract(_ context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", doc.Filename, err)
	}
	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open docx body %s: %w", doc.Filename, err)
		}
		defer rc.Close()
		text, err := wordText(rc)
		if err != nil {
			return "", fmt.Errorf("parse docx body %s: %w", doc.Filename, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("docx %s has no word/document.xml", doc.Filename)
}

// wordText walks w:p paragraphs, joining w:t runs and honouring tabs and
// line breaks.
func wordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
