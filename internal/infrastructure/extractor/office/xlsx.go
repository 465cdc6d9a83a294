package office

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

// SpreadsheetExtractor renders every sheet as tab-separated rows.
type SpreadsheetExtractor struct{}

func NewSpreadsheetExtractor() *SpreadsheetExtractor {
	return &SpreadsheetExtractor{}
}

func (e *SpreadsheetExtractor) Extract(_ context.Context, doc domain.KnowledgeDocument, raw []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet %s: %w", doc.Filename, err)
	}
	defer book.Close()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s of %s: %w", sheet, doc.Filename, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}
