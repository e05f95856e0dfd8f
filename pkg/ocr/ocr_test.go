package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"storeops/pkg/ai"
)

func TestVisionExtractorSendsContentAndReadsFirstAnnotation(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images:annotate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"responses":[{"textAnnotations":[{"description":"CASH   2100\n\nCARD 5400\n"},{"description":"CASH"}]}]}`))
	}))
	defer srv.Close()

	v, err := NewVisionExtractor(context.Background(), "k-1", srv.URL, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	text, err := v.ExtractText(context.Background(), ai.Image{Data: []byte("jpegbytes"), MimeType: "image/jpeg"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "CASH 2100\nCARD 5400" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotKey != "k-1" {
		t.Fatalf("api key not sent, got %q", gotKey)
	}
	reqs, _ := gotBody["requests"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("unexpected request body %v", gotBody)
	}
	image := reqs[0].(map[string]any)["image"].(map[string]any)
	if image["content"] == nil || image["source"] != nil {
		t.Fatalf("expected inline content, got %v", image)
	}
}

func TestVisionExtractorNoTextIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{}]}`))
	}))
	defer srv.Close()

	v, err := NewVisionExtractor(context.Background(), "k", srv.URL, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	text, err := v.ExtractText(context.Background(), ai.Image{URL: "https://media.example/a.jpg"})
	if err != nil || text != "" {
		t.Fatalf("expected empty text and nil error, got %q / %v", text, err)
	}
}

func TestVisionExtractorProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "bad") {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image"}}]}`))
	}))
	defer srv.Close()

	for _, key := range []string{"bad", "ok"} {
		v, err := NewVisionExtractor(context.Background(), key, srv.URL, 0)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if _, err := v.ExtractText(context.Background(), ai.Image{Data: []byte("x")}); err == nil {
			t.Fatalf("key %s: expected error", key)
		}
	}
}

func TestParsePaddleOCRJSON(t *testing.T) {
	raw := []byte(`{"ocrResults":[
		{"page_index":0,"prunedResult":{"rec_texts":["TOTAL","12.00"],"rec_scores":[0.9,0.7]}},
		{"page_index":1,"prunedResult":{"rec_texts":["THANK YOU"],"rec_scores":[0.8]}}]}`)
	pages, err := parsePaddleOCRJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(pages) != 2 || pages[0].Page != 1 || pages[0].Text != "TOTAL\n12.00" || pages[1].Page != 2 {
		t.Fatalf("unexpected pages %+v", pages)
	}
	if pages[0].AvgScore < 0.79 || pages[0].AvgScore > 0.81 {
		t.Fatalf("avg score = %f", pages[0].AvgScore)
	}

	single, err := parsePaddleOCRJSON([]byte(`{"result":{"rec_texts":["one page"]}}`))
	if err != nil || len(single) != 1 || single[0].Text != "one page" {
		t.Fatalf("single page: %+v / %v", single, err)
	}
	if _, err := parsePaddleOCRJSON([]byte(`{"other":1}`)); err == nil {
		t.Fatalf("expected error for output without results")
	}
}

func TestParseCommandOutputFallsBackToPlainText(t *testing.T) {
	if got := parseCommandOutput([]byte("  Shell  Oil\n\n INV 4471 \n")); got != "Shell Oil\nINV 4471" {
		t.Fatalf("unexpected plain text %q", got)
	}
	if got := parseCommandOutput([]byte(`{"result":{"rec_texts":["A","B"]}}`)); got != "A\nB" {
		t.Fatalf("unexpected paddle text %q", got)
	}
}

func TestCommandExtractorRunsToolOnTempFile(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	c, err := NewCommandExtractor("cat", []string{InputPlaceholder}, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	text, err := c.ExtractText(context.Background(), ai.Image{Data: []byte("FUEL 3200 GAL\n"), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "FUEL 3200 GAL" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestCommandExtractorBuildArgs(t *testing.T) {
	c, _ := NewCommandExtractor("paddleocr", []string{"ocr", "-i", InputPlaceholder}, 0)
	if got := strings.Join(c.buildArgs("/tmp/x.jpg"), " "); got != "ocr -i /tmp/x.jpg" {
		t.Fatalf("placeholder args = %q", got)
	}
	c, _ = NewCommandExtractor("tesseract", []string{"--psm", "6"}, 0)
	if got := strings.Join(c.buildArgs("/tmp/x.jpg"), " "); got != "--psm 6 /tmp/x.jpg" {
		t.Fatalf("appended args = %q", got)
	}
}

type recordingExtractor struct{ calls int }

func (r *recordingExtractor) ExtractText(context.Context, ai.Image) (string, error) {
	r.calls++
	return "from image", nil
}

func TestPDFExtractorDelegatesImages(t *testing.T) {
	next := &recordingExtractor{}
	p := NewPDFExtractor(next)
	text, err := p.ExtractText(context.Background(), ai.Image{Data: []byte("jpeg"), MimeType: "image/jpeg"})
	if err != nil || text != "from image" || next.calls != 1 {
		t.Fatalf("expected delegation, got %q / %v / %d calls", text, err, next.calls)
	}
}

func TestPDFExtractorRejectsBrokenPDF(t *testing.T) {
	next := &recordingExtractor{}
	p := NewPDFExtractor(next)
	if _, err := p.ExtractText(context.Background(), ai.Image{Data: []byte("not a pdf at all"), MimeType: "application/pdf"}); err == nil {
		t.Fatalf("expected error for broken pdf")
	}
	if next.calls != 0 {
		t.Fatalf("broken pdf should not be delegated")
	}
}
