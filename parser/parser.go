// Package parser loads source documents as plain text for extraction.
// Plain text and Markdown are read as-is, PDF goes through
// ledongthuc/pdf, DOCX through its zipped XML, and XLSX through
// excelize.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions no loader handles.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// ErrNoText is returned when a document opens cleanly but yields no
// extractable text.
var ErrNoText = errors.New("parser: no extractable text")

// Load reads the document at path and returns its plain text. The
// loader is picked by extension, case-insensitively.
func Load(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return loadText(path)
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
