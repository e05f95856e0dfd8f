package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VisionGenerator additionally accepts image attachments.
type VisionGenerator interface {
	TextGenerator
	GenerateWithImages(ctx context.Context, systemPrompt, userPrompt string, images []Image) (string, error)
}

// Image is an attachment for a multimodal prompt. Providers use Data when
// present and fall back to URL.
type Image struct {
	URL      string
	Data     []byte
	MimeType string
}

func (img Image) mimeType() string {
	if mt := strings.TrimSpace(img.MimeType); mt != "" {
		return mt
	}
	if len(img.Data) > 0 {
		return http.DetectContentType(img.Data)
	}
	return "image/jpeg"
}

func (img Image) base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

func (img Image) dataURL() string {
	return "data:" + img.mimeType() + ";base64," + img.base64()
}

const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
)

// Config selects and configures a generation provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewGenerator builds the VisionGenerator for cfg.Provider.
func NewGenerator(cfg Config) (VisionGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		return NewGeminiGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.Timeout)
	case ProviderOllama:
		return NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.Timeout), nil
	case ProviderOpenAICompat, "openai":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Provider)
	}
}
