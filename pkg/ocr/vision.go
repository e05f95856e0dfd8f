package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"

	"storeops/pkg/ai"
)

// VisionExtractor runs TEXT_DETECTION through the Cloud Vision images:annotate API.
type VisionExtractor struct {
	images  *vision.ImagesService
	timeout time.Duration
}

// NewVisionExtractor authenticates with an API key. An empty baseURL keeps the
// public endpoint.
func NewVisionExtractor(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*VisionExtractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("vision api key required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL+"/"))
	}
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init vision service: %w", err)
	}
	return &VisionExtractor{images: svc.Images, timeout: timeout}, nil
}

// ExtractText sends image bytes when present, otherwise the image URL.
func (v *VisionExtractor) ExtractText(ctx context.Context, img ai.Image) (string, error) {
	image := &vision.Image{}
	switch {
	case len(img.Data) > 0:
		image.Content = base64.StdEncoding.EncodeToString(img.Data)
	case strings.TrimSpace(img.URL) != "":
		image.Source = &vision.ImageSource{ImageUri: img.URL}
	default:
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	resp, err := v.images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    image,
			Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	first := resp.Responses[0]
	if first.Error != nil && first.Error.Message != "" {
		return "", fmt.Errorf("vision error %d: %s", first.Error.Code, first.Error.Message)
	}
	// The first annotation is the whole detected block.
	if len(first.TextAnnotations) > 0 && first.TextAnnotations[0] != nil {
		return normalizeText(first.TextAnnotations[0].Description), nil
	}
	if first.FullTextAnnotation != nil {
		return normalizeText(first.FullTextAnnotation.Text), nil
	}
	return "", nil
}
