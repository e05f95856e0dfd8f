// Package ocr turns photographed receipts and documents into raw text.
package ocr

import (
	"context"
	"strings"

	"storeops/pkg/ai"
)

// Extractor recognizes text in an image. No detected text is "" with a nil
// error; errors mean the provider itself failed.
type Extractor interface {
	ExtractText(ctx context.Context, img ai.Image) (string, error)
}

// Nop never recognizes anything.
type Nop struct{}

func (Nop) ExtractText(context.Context, ai.Image) (string, error) { return "", nil }

// normalizeText keeps line structure, which receipts depend on, but collapses
// runs of spaces and drops blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
