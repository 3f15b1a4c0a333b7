package parser

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// loadXLSX renders every sheet as its name followed by pipe-delimited
// rows. Sheets that fail to read or hold no data are skipped.
func loadXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return b.String(), nil
}
