package parser

import (
	"fmt"
	"os"
	"strings"
)

// loadText reads a plain-text or Markdown file. A UTF-8 BOM is
// stripped and Windows line endings are normalized.
func loadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}

	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return text, nil
}
