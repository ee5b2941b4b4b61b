package pdfextract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Text extracts the plain text of a PDF page by page, each page prefixed with
// a "[page N]" marker. A document without extractable text yields "".
func Text(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", nil
	}
	// The parser panics on some malformed uploads.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d failed: %w", i, err)
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "[page %d]\n%s\n", i, content)
	}
	return strings.TrimSpace(b.String()), nil
}
