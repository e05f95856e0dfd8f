package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiGenerator calls generateContent on the Gemini API with a fixed model.
type GeminiGenerator struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	http        *http.Client
}

// NewGeminiGenerator requires an API key. An empty baseURL selects the public endpoint.
func NewGeminiGenerator(apiKey, baseURL, model string, temperature float64, timeout time.Duration) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiGenerator{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       strings.TrimPrefix(strings.TrimSpace(model), "models/"),
		temperature: temperature,
		http:        &http.Client{Timeout: timeout},
	}, nil
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.GenerateWithImages(ctx, systemPrompt, userPrompt, nil)
}

// GenerateWithImages sends inline bytes when present and falls back to a file URI.
func (g *GeminiGenerator) GenerateWithImages(ctx context.Context, systemPrompt, userPrompt string, images []Image) (string, error) {
	if g.model == "" {
		return "", errors.New("gemini generation model required")
	}
	parts := []part{{Text: userPrompt}}
	for _, img := range images {
		switch {
		case len(img.Data) > 0:
			parts = append(parts, part{InlineData: &blob{MimeType: img.mimeType(), Data: img.base64()}})
		case strings.TrimSpace(img.URL) != "":
			parts = append(parts, part{FileData: &fileData{MimeType: img.mimeType(), FileURI: img.URL}})
		}
	}
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{Temperature: g.temperature},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	var resp generateResponse
	if err := postJSON(ctx, g.http, "gemini", endpoint, nil, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("empty response from gemini")
	}
	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", errors.New("empty response from gemini")
	}
	return out.String(), nil
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *blob     `json:"inlineData,omitempty"`
	FileData   *fileData `json:"fileData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
