package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"storeops/pkg/ai"
)

// PDFExtractor reads the text layer of PDF documents and hands every other
// image to next.
type PDFExtractor struct {
	next Extractor
}

func NewPDFExtractor(next Extractor) *PDFExtractor {
	if next == nil {
		next = Nop{}
	}
	return &PDFExtractor{next: next}
}

func (p *PDFExtractor) ExtractText(ctx context.Context, img ai.Image) (string, error) {
	if !isPDF(img) {
		return p.next.ExtractText(ctx, img)
	}
	text, err := pdfText(img.Data)
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	// Scanned PDF without a text layer.
	return p.next.ExtractText(ctx, img)
}

func isPDF(img ai.Image) bool {
	if strings.Contains(strings.ToLower(img.MimeType), "pdf") {
		return true
	}
	return bytes.HasPrefix(img.Data, []byte("%PDF-"))
}

func pdfText(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", nil
	}
	// The pdf package panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeText(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n"), nil
}
