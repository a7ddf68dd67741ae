package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageExtractor yields the plain text of each page of a PDF, in page order.
// Pages that cannot carry text come back as empty strings so page numbering
// stays aligned.
type PageExtractor interface {
	ExtractPages(path string) ([]string, error)
}

// PDFExtractor reads page text directly from the PDF content streams.
type PDFExtractor struct{}

func NewPDFExtractor() PDFExtractor {
	return PDFExtractor{}
}

func (PDFExtractor) ExtractPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single damaged page should not sink the whole book.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
