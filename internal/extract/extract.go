// Package extract turns uploaded files into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned for files that contain no readable text, such as
// scanned PDFs.
var ErrNoText = errors.New("no readable text")

// ErrUnreadable marks files the PDF parser rejects.
var ErrUnreadable = errors.New("unreadable pdf")

// Text extracts the text of a file. PDFs are parsed page by page; any other
// file is read as UTF-8 text.
func Text(name string, data []byte) (string, error) {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return pdfText(data)
	}
	return Clean(string(data)), nil
}

// Clean drops NUL and other control characters except newline, carriage
// return and tab, and replaces invalid UTF-8.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func pdfText(data []byte) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrUnreadable, i, err)
		}
		if cleaned := Clean(pageText); cleaned != "" {
			b.WriteString(cleaned)
			b.WriteString("\n")
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrNoText
	}
	return b.String(), nil
}
