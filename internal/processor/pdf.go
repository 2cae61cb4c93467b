// internal/processor/pdf.go
package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"docrag/internal/models"

	"github.com/ledongthuc/pdf"
)

// PageLoader turns one document file into per-page source documents.
type PageLoader interface {
	LoadPages(ctx context.Context, filePath, topic string) ([]models.SourceDocument, error)
}

// PDFLoader extracts page text from PDF files
type PDFLoader struct{}

// NewPDFLoader creates a new PDF loader
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// LoadPages returns one SourceDocument per page. Pages are numbered from zero.
func (l *PDFLoader) LoadPages(ctx context.Context, filePath, topic string) ([]models.SourceDocument, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	name := filepath.Base(filePath)
	total := r.NumPage()
	docs := make([]models.SourceDocument, 0, total)

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text of page %d: %w", i, err)
		}

		docs = append(docs, models.SourceDocument{
			Text:       cleanPageText(text),
			SourceFile: name,
			Page:       i - 1,
			Topic:      topic,
		})
	}

	return docs, nil
}

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	blankLinesRe    = regexp.MustCompile(`\n{3,}`)
)

// cleanPageText normalizes line endings and blank runs but keeps paragraph
// and line breaks, which the splitter relies on.
func cleanPageText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n\n")
	text = trailingSpaceRe.ReplaceAllString(text, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
