// Package parser extracts plain text from uploaded documents and
// normalizes it for chunking.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dslipak/pdf"
)

var (
	// ErrUnsupportedType signals a content type no extractor handles.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrParse signals a document whose bytes could not be decoded.
	ErrParse = errors.New("document parse failed")
)

// Supported media types.
const (
	typeText     = "text/plain"
	typeMarkdown = "text/markdown"
	typePDF      = "application/pdf"
	typeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	typePPTX     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	typeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// TypeByFilename maps a filename extension to its supported media
// type. Unknown extensions return the empty string. Callers use this
// when an upload arrives without a usable content type.
func TypeByFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return typeText
	case ".md", ".markdown":
		return typeMarkdown
	case ".pdf":
		return typePDF
	case ".docx":
		return typeDOCX
	case ".pptx":
		return typePPTX
	case ".xlsx":
		return typeXLSX
	}
	return ""
}

// Parse extracts and normalizes text from data according to contentType.
// The filename is only consulted as a fallback for markdown files
// uploaded under a generic content type. An unsupported type returns
// ErrUnsupportedType; undecodable bytes return ErrParse. Documents with
// no extractable text yield an empty string, not an error.
func Parse(filename, contentType string, data []byte) (string, error) {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	var (
		raw string
		err error
	)
	switch mediaType {
	case typeText, typeMarkdown:
		raw, err = parseText(data)
	case typePDF:
		raw, err = parsePDF(data)
	case typeDOCX:
		raw, err = parseDOCX(data)
	case typePPTX:
		raw, err = parsePPTX(data)
	case typeXLSX:
		raw, err = parseXLSX(data)
	default:
		// Browsers often upload .md files as text/plain variants or
		// application/octet-stream; fall back on the extension.
		if strings.EqualFold(filepath.Ext(filename), ".md") {
			raw, err = parseText(data)
			break
		}
		return "", fmt.Errorf("%w: %s (file %s)", ErrUnsupportedType, contentType, filename)
	}
	if err != nil {
		return "", err
	}
	return Normalize(raw), nil
}

// parseText decodes plain text and markdown. Markup is retained;
// markdown is treated as a plain-text form.
func parseText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrParse)
	}
	return string(data), nil
}

// parsePDF extracts page text in order, pages joined by blank lines.
// The pdf library panics on some malformed files, so the panic is
// converted into ErrParse here instead of taking down the worker job.
func parsePDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: pdf: %v", ErrParse, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", ErrParse, err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: pdf page %d: %v", ErrParse, i, err)
		}
		if strings.TrimSpace(pageText) != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

var (
	zeroWidthReplacer = strings.NewReplacer(
		"​", "", // zero width space
		"‌", "", // zero width non-joiner
		"‍", "", // zero width joiner
		"\uFEFF", "", // byte order mark
	)
	blankLineRunRE = regexp.MustCompile(`\n\s*\n`)
	spaceRunRE     = regexp.MustCompile(` {2,}`)
)

// Normalize collapses whitespace noise from extraction: zero-width
// characters stripped, line endings unified to LF, blank-line runs
// collapsed to one blank line, space runs collapsed to one space, and
// the edges trimmed.
func Normalize(text string) string {
	text = zeroWidthReplacer.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankLineRunRE.ReplaceAllString(text, "\n\n")
	text = spaceRunRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
