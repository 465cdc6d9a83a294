package domain

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultTruncationMarker is appended whenever text is cut to a cap.
const DefaultTruncationMarker = "\n[... truncated ...]"

// KnowledgeDocument references reference material kept in object storage.
// Extracted text is derived on demand and never written back.
type KnowledgeDocument struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	StorageKey string `json:"storage_key"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
}

// Extension returns the lower-cased filename extension including the dot.
func (d KnowledgeDocument) Extension() string {
	return strings.ToLower(filepath.Ext(d.Filename))
}

// Truncate keeps the first limit characters of text and appends marker when
// anything was cut. Text that already ends in marker with a prefix of at most
// limit characters is returned unchanged, so truncation is idempotent.
func Truncate(text string, limit int, marker string) string {
	if limit <= 0 {
		return text
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	if strings.HasSuffix(text, marker) {
		head := strings.TrimSuffix(text, marker)
		if utf8.RuneCountInString(head) <= limit {
			return text
		}
	}

	cut := 0
	count := 0
	for i := range text {
		if count == limit {
			cut = i
			break
		}
		count++
	}
	return text[:cut] + marker
}
