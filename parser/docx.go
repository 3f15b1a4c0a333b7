package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX XML structures (simplified)
type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	XMLName xml.Name    `xml:"body"`
	Paras   []docxPara  `xml:"p"`
	Tables  []docxTable `xml:"tbl"`
}

type docxPara struct {
	XMLName xml.Name  `xml:"p"`
	Runs    []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

// loadDOCX extracts paragraph and table text from word/document.xml
// inside the DOCX archive. Table rows are rendered as pipe-delimited
// lines so cell adjacency survives into the plain text.
func loadDOCX(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parsing DOCX XML: %w", err)
	}

	var b strings.Builder
	for _, para := range doc.Body.Paras {
		text := docxParaText(para)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	for _, tbl := range doc.Body.Tables {
		rows := make([]string, 0, len(tbl.Rows))
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, p := range cell.Paras {
					if cellText.Len() > 0 {
						cellText.WriteString(" ")
					}
					cellText.WriteString(docxParaText(p))
				}
				cells = append(cells, strings.TrimSpace(cellText.String()))
			}
			rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		}
		if len(rows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(rows, "\n"))
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return b.String(), nil
}

func docxParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
