package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF extracts plain text from a PDF, page by page. Pages that
// fail to decode are skipped rather than failing the whole document.
func loadPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return strings.Join(pages, "\n\n"), nil
}
