package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// NativePDFExtractor extracts PDF text without Document AI, used when the
// Document AI processor isn't configured or its extraction fails.
// It loses Document AI's entity extraction but preserves page boundaries,
// which is all the chunker needs for page_index metadata.
type NativePDFExtractor struct{}

func (NativePDFExtractor) Extract(_ context.Context, data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("document.NativePDFExtractor.Extract: %w", err)
	}

	total := reader.NumPage()
	var pages []string
	for pageNum := 1; pageNum <= total; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}

	if strings.TrimSpace(strings.Join(pages, "")) == "" {
		return "", 0, fmt.Errorf("document.NativePDFExtractor.Extract: no text extracted from %d pages", total)
	}

	return strings.Join(pages, "\f"), total, nil
}
