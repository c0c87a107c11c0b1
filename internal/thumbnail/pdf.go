package thumbnail

import (
	"errors"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// renderDPI is high enough that the scaled preview stays sharp.
const renderDPI = 144

// FirstPage renders page one of a PDF and scales it to at most maxWidth
// pixels wide. The result is PNG encoded.
func FirstPage(data []byte, maxWidth int) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, errors.New("pdf has no pages")
	}
	page, err := doc.ImageDPI(0, renderDPI)
	if err != nil {
		return nil, fmt.Errorf("render page 1: %w", err)
	}
	return scaleImage(page, maxWidth)
}
