package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls an OpenAI-style /chat/completions endpoint.
type OpenAICompatGenerator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAICompatGenerator expects baseURL to include the version prefix
// ("http://localhost:8000/v1"). apiKey may be empty for local servers.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, temperature float64, timeout time.Duration) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompatGenerator{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(model),
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.GenerateWithImages(ctx, systemPrompt, userPrompt, nil)
}

// GenerateWithImages sends images as image_url parts. Inline data is sent as a
// data URL so privately stored media never has to be reachable by the provider.
func (g *OpenAICompatGenerator) GenerateWithImages(ctx context.Context, systemPrompt, userPrompt string, images []Image) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userContent(userPrompt, images)})

	reqBody := oaiChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   1000,
	}

	var header http.Header
	if g.apiKey != "" {
		header = http.Header{"Authorization": {"Bearer " + g.apiKey}}
	}
	var chatResp oaiChatResponse
	if err := postJSON(ctx, g.httpClient, "openai-compat", g.baseURL+"/chat/completions", header, reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

func userContent(prompt string, images []Image) any {
	if len(images) == 0 {
		return prompt
	}
	parts := []oaiContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		switch {
		case len(img.Data) > 0:
			parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: img.dataURL()}})
		case strings.TrimSpace(img.URL) != "":
			parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: img.URL}})
		}
	}
	return parts
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type oaiResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiResponseMessage `json:"message"`
	} `json:"choices"`
}
