package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// openZipPart returns the named file from an OOXML container.
func openZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// extractParagraphs walks one WordprocessingML or DrawingML part and
// returns the text of each paragraph: character data inside <t> runs,
// concatenated per enclosing <p> element. Empty paragraphs are dropped.
func extractParagraphs(part []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(part))

	var (
		paragraphs []string
		current    strings.Builder
		inRun      bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inRun = true
			case "tab":
				current.WriteByte(' ')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if s := current.String(); strings.TrimSpace(s) != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inRun {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

// parseDOCX extracts paragraph text from word/document.xml, paragraphs
// joined by blank lines.
func parseDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", ErrParse, err)
	}
	part, err := openZipPart(zr, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", ErrParse, err)
	}
	paragraphs, err := extractParagraphs(part)
	if err != nil {
		return "", fmt.Errorf("%w: docx: %v", ErrParse, err)
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

var slidePartRE = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parsePPTX extracts slide text in slide order: paragraphs within a
// slide joined by newlines, slides joined by blank lines.
func parsePPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pptx: %v", ErrParse, err)
	}

	type slidePart struct {
		number int
		name   string
	}
	var parts []slidePart
	for _, f := range zr.File {
		m := slidePartRE.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		parts = append(parts, slidePart{number: n, name: f.Name})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].number < parts[j].number })

	var slides []string
	for _, sp := range parts {
		part, err := openZipPart(zr, sp.name)
		if err != nil {
			return "", fmt.Errorf("%w: pptx: %v", ErrParse, err)
		}
		paragraphs, err := extractParagraphs(part)
		if err != nil {
			return "", fmt.Errorf("%w: pptx slide %d: %v", ErrParse, sp.number, err)
		}
		if len(paragraphs) > 0 {
			slides = append(slides, strings.Join(paragraphs, "\n"))
		}
	}
	return strings.Join(slides, "\n\n"), nil
}

// parseXLSX extracts cell text: cells joined by spaces, rows by
// newlines, sheets by blank lines.
func parseXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %v", ErrParse, err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("%w: xlsx sheet %s: %v", ErrParse, sheet, err)
		}
		var lines []string
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if strings.TrimSpace(cell) != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
