// Package fulltext extracts plain text from paper PDFs for analysis.
// Extraction is best-effort; sections and equations are not parsed here.
package fulltext

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxPages bounds how many pages are extracted. Summaries only consume an
// excerpt, so the tail of long papers is never needed.
const MaxPages = 30

// Extractor resolves a paper ID to extracted text. The zero implementation
// used by the pipeline reads PDFs from a local directory; tests substitute
// their own.
type Extractor interface {
	// Extract returns the paper's plain text, or "" when no source
	// document is available. Absence is not an error.
	Extract(paperID string) (string, error)
}

// DirExtractor reads PDFs named <id>.pdf from a directory, with "/" in
// IDs mapped to "_".
type DirExtractor struct {
	Dir string
}

// Extract implements Extractor.
func (d DirExtractor) Extract(paperID string) (string, error) {
	name := strings.ReplaceAll(paperID, "/", "_") + ".pdf"
	path := filepath.Join(d.Dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return ExtractFile(path)
}

// ExtractFile extracts plain text from a PDF file.
func ExtractFile(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	pages := r.NumPage()
	if pages > MaxPages {
		pages = MaxPages
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
