package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator talks to a local Ollama /api/chat endpoint.
type OllamaGenerator struct {
	endpoint    string
	model       string
	temperature float64
	http        *http.Client
}

func NewOllamaGenerator(baseURL, model string, temperature float64, timeout time.Duration) *OllamaGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaGenerator{
		endpoint:    baseURL + "/api/chat",
		model:       strings.TrimSpace(model),
		temperature: temperature,
		http:        &http.Client{Timeout: timeout},
	}
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.GenerateWithImages(ctx, systemPrompt, userPrompt, nil)
}

// GenerateWithImages attaches inline image bytes. Ollama cannot fetch remote
// URLs, so URL-only images are dropped.
func (g *OllamaGenerator) GenerateWithImages(ctx context.Context, systemPrompt, userPrompt string, images []Image) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama generation model required")
	}
	req := ollamaChatRequest{
		Model:   g.model,
		Options: &ollamaOptions{Temperature: g.temperature},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	user := ollamaChatMessage{Role: "user", Content: userPrompt}
	for _, img := range images {
		if len(img.Data) > 0 {
			user.Images = append(user.Images, img.base64())
		}
	}
	req.Messages = append(req.Messages, user)

	var resp ollamaChatResponse
	if err := postJSON(ctx, g.http, "ollama", g.endpoint, nil, req, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", errors.New("empty response from ollama")
	}
	return text, nil
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}
