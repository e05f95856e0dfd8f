// Package extract turns classified message text and images into typed fields.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storeops/internal/util"
	"storeops/pkg/ai"
	"storeops/pkg/domain"
)

// ExtractionConfidence is reported for every successful model extraction,
// regardless of how many fields were filled.
const ExtractionConfidence = 0.85

const (
	systemPrompt = "You are a data extraction assistant. Extract structured data from messages and images. Return only valid JSON."

	notesModel    = "model-extracted"
	notesModelOCR = "model-extracted with OCR text"
)

// Request is one extraction. Image is attached when the generator accepts images.
type Request struct {
	Category domain.Category
	Text     string
	OCRText  string
	Image    *ai.Image
	MediaURL string
}

type Extractor struct {
	gen   ai.TextGenerator
	newID func() string
}

func New(gen ai.TextGenerator) *Extractor {
	return &Extractor{gen: gen, newID: uuid.NewString}
}

// Extract never fails. A model or parse failure yields empty raw fields with
// confidence 0 and a Degraded marker so the sender can still repair the record.
func (e *Extractor) Extract(ctx context.Context, req Request) domain.ExtractionResult {
	result := domain.ExtractionResult{
		RawText:        req.Text,
		SourceMediaURL: req.MediaURL,
	}
	fields, err := e.extractFields(ctx, req)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("field extraction degraded", "category", req.Category, "err", err)
		result.Fields = domain.RawFields{}
		result.Confidence = 0
		result.Degraded = &domain.Degradation{Stage: "extract", Reason: err.Error()}
		return result
	}
	result.Fields = fields
	result.Confidence = ExtractionConfidence
	result.Notes = notesModel
	if strings.TrimSpace(req.OCRText) != "" {
		result.Notes = notesModelOCR
	}
	return result
}

func (e *Extractor) extractFields(ctx context.Context, req Request) (domain.Fields, error) {
	if e.gen == nil {
		return nil, errors.New("no generator configured")
	}
	prompt := BuildPrompt(req.Category, fuseText(req.Text, req.OCRText))

	var (
		answer string
		err    error
	)
	vision, canSee := e.gen.(ai.VisionGenerator)
	if canSee && req.Image != nil {
		answer, err = vision.GenerateWithImages(ctx, systemPrompt, prompt, []ai.Image{*req.Image})
	} else {
		answer, err = e.gen.GenerateText(ctx, systemPrompt, prompt)
	}
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	var parsed map[string]any
	if err := ai.DecodeJSON(answer, &parsed); err != nil {
		return nil, err
	}
	fields := domain.FieldsFromMap(req.Category, parsed)
	if order, ok := fields.(*domain.OrderRequestFields); ok && strings.TrimSpace(order.OrderBatchID) == "" {
		order.OrderBatchID = e.newID()
	}
	return fields, nil
}

func fuseText(text, ocrText string) string {
	text = strings.TrimSpace(text)
	ocrText = strings.TrimSpace(ocrText)
	switch {
	case ocrText == "":
		return text
	case text == "":
		return ocrText
	default:
		return text + "\n\n" + ocrText
	}
}
