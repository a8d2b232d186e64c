package docload

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXLoader reads the main document part of a .docx archive.
// Heading-styled paragraphs come out as their own lines and body
// paragraphs are separated by blank lines, so section detection works
// on the result. Tables are flattened to pipe-delimited rows.
type DOCXLoader struct{}

func (l *DOCXLoader) Formats() []string { return []string{"docx"} }

func (l *DOCXLoader) Load(ctx context.Context, path string) (string, error) {
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

	text, err := docxToText(data)
	if err != nil {
		return "", fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return text, nil
}

type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paras  []docxPara  `xml:"p"`
	Tables []docxTable `xml:"tbl"`
}

type docxPara struct {
	PPr  *docxPPr  `xml:"pPr"`
	Runs []docxRun `xml:"r"`
}

type docxPPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Texts []string `xml:"t"`
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

func docxToText(data []byte) (string, error) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, para := range doc.Body.Paras {
		text := paraText(para)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	for _, tbl := range doc.Body.Tables {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for i, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, p := range cell.Paras {
					if t := paraText(p); t != "" {
						if cellText.Len() > 0 {
							cellText.WriteString(" ")
						}
						cellText.WriteString(t)
					}
				}
				cells = append(cells, cellText.String())
			}
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |")
		}
	}

	return b.String(), nil
}

func paraText(p docxPara) string {
	var b strings.Builder
	for _, run := range p.Runs {
		for _, t := range run.Texts {
			b.WriteString(t)
		}
	}
	return strings.TrimSpace(b.String())
}
