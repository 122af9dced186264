package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"docchat/internal/domain"
)

// DetectKind maps a filename to a chunk kind.
func DetectKind(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.KindPDF
	case ".html", ".htm":
		return domain.KindHTML
	default:
		return domain.KindText
	}
}

// IsSupported reports whether the upload extension can be ingested.
func IsSupported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt", ".md", ".html", ".htm":
		return true
	}
	return false
}

// PDFPages returns the plain text of every page, in page order. A page that
// cannot be decoded yields an empty string rather than failing the document;
// the caller decides whether to skip it.
func PDFPages(raw []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// DecodeText decodes raw bytes permissively: invalid UTF-8 sequences are
// replaced, never fatal.
func DecodeText(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}
