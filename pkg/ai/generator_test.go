package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAICompatSendsImageAsDataURL(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Fatalf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" {\"cash\": 2100} "}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "sk-test", "gpt-4o-mini", 0.1, 0)
	out, err := g.GenerateWithImages(context.Background(), "sys", "extract", []Image{{Data: []byte("fake"), MimeType: "image/png"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"cash": 2100}` {
		t.Fatalf("unexpected output %q", out)
	}

	messages := got["messages"].([]any)
	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected text + image parts, got %v", parts)
	}
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(image, "data:image/png;base64,") {
		t.Fatalf("expected data url, got %q", image)
	}
}

func TestOpenAICompatSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL, "", "m", 0, 0)
	_, err := g.GenerateText(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestGeminiSendsInlineData(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "k" {
			t.Fatalf("missing api key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"STORE"},{"text":"_SALES"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator("k", srv.URL, "models/gemini-2.0-flash", 0.1, 0)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	out, err := g.GenerateWithImages(context.Background(), "sys", "classify", []Image{{Data: []byte{0xff, 0xd8, 0xff}, MimeType: "image/jpeg"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "STORE_SALES" {
		t.Fatalf("unexpected output %q", out)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("expected system instruction, got %+v", got.SystemInstruction)
	}
	parts := got.Contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("expected inline image part, got %+v", parts)
	}
}

func TestOllamaSkipsURLOnlyImages(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"}}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "llava", 0, 0)
	if _, err := g.GenerateWithImages(context.Background(), "", "read", []Image{{URL: "https://example.com/a.jpg"}, {Data: []byte("x")}}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	user := got.Messages[len(got.Messages)-1]
	if len(user.Images) != 1 {
		t.Fatalf("expected only inline image to be sent, got %d", len(user.Images))
	}
}

func TestNewGeneratorRejectsUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	g, err := NewGenerator(Config{Provider: "openai-compat", Model: "m"})
	if err != nil {
		t.Fatalf("openai-compat: %v", err)
	}
	if _, ok := g.(*OpenAICompatGenerator); !ok {
		t.Fatalf("unexpected generator type %T", g)
	}
}

func TestOllamaSurfacesStringError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'llava' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "llava", 0, 0).GenerateText(context.Background(), "", "hi")
	if err == nil || err.Error() != "ollama api error: model 'llava' not found" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestErrorMessageShapes(t *testing.T) {
	cases := map[string]string{
		`{"error":"plain"}`:                       "plain",
		`{"error":{"message":"nested","code":3}}`: "nested",
		`<html>bad gateway</html>`:                "",
		`{}`:                                      "",
	}
	for body, want := range cases {
		if got := errorMessage([]byte(body)); got != want {
			t.Fatalf("errorMessage(%s) = %q, want %q", body, got, want)
		}
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "gemini", Model: "gemini-2.0-flash"}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
