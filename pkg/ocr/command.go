package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"storeops/pkg/ai"
)

// InputPlaceholder in command arguments is replaced by the image file path.
// Without it the path is appended as the last argument.
const InputPlaceholder = "{input}"

// CommandExtractor runs a local OCR tool (PaddleOCR, tesseract) on a temp file.
// Output is parsed as PaddleOCR JSON when possible, else taken as plain text.
type CommandExtractor struct {
	command string
	args    []string
	timeout time.Duration
}

func NewCommandExtractor(command string, args []string, timeout time.Duration) (*CommandExtractor, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("ocr command required")
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &CommandExtractor{command: command, args: append([]string(nil), args...), timeout: timeout}, nil
}

func (c *CommandExtractor) ExtractText(ctx context.Context, img ai.Image) (string, error) {
	if len(img.Data) == 0 {
		// Local tools only work on bytes.
		return "", nil
	}
	dir, err := os.MkdirTemp("", "storeops-ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+extensionFor(img.MimeType))
	if err := os.WriteFile(input, img.Data, 0o600); err != nil {
		return "", fmt.Errorf("write ocr input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.command, c.buildArgs(input)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ocr command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseCommandOutput(stdout.Bytes()), nil
}

func (c *CommandExtractor) buildArgs(input string) []string {
	args := make([]string, 0, len(c.args)+1)
	replaced := false
	for _, a := range c.args {
		if strings.Contains(a, InputPlaceholder) {
			a = strings.ReplaceAll(a, InputPlaceholder, input)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, input)
	}
	return args
}

func parseCommandOutput(out []byte) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if pages, err := parsePaddleOCRJSON(trimmed); err == nil {
			texts := make([]string, 0, len(pages))
			for _, p := range pages {
				texts = append(texts, p.Text)
			}
			return normalizeText(strings.Join(texts, "\n"))
		}
	}
	return normalizeText(string(trimmed))
}

type ocrPage struct {
	Page     int
	Text     string
	AvgScore float64
}

type paddleResult struct {
	RecTexts  []string  `json:"rec_texts"`
	RecScores []float64 `json:"rec_scores"`
}

// parsePaddleOCRJSON accepts the PaddleOCR pipeline output, either a list of
// per-page results or a single result object.
func parsePaddleOCRJSON(raw []byte) ([]ocrPage, error) {
	var doc struct {
		OCRResults []struct {
			PageIndex    int          `json:"page_index"`
			PrunedResult paddleResult `json:"prunedResult"`
		} `json:"ocrResults"`
		Result *paddleResult `json:"result"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode paddle output: %w", err)
	}
	var pages []ocrPage
	for _, r := range doc.OCRResults {
		pages = append(pages, toPage(r.PageIndex+1, r.PrunedResult))
	}
	if len(pages) == 0 && doc.Result != nil {
		pages = append(pages, toPage(1, *doc.Result))
	}
	if len(pages) == 0 {
		return nil, errors.New("paddle output has no results")
	}
	return pages, nil
}

func toPage(page int, r paddleResult) ocrPage {
	p := ocrPage{Page: page, Text: strings.Join(r.RecTexts, "\n")}
	if len(r.RecScores) > 0 {
		var sum float64
		for _, s := range r.RecScores {
			sum += s
		}
		p.AvgScore = sum / float64(len(r.RecScores))
	}
	return p
}

func extensionFor(mimeType string) string {
	switch mt := strings.ToLower(mimeType); {
	case strings.Contains(mt, "png"):
		return ".png"
	case strings.Contains(mt, "webp"):
		return ".webp"
	case strings.Contains(mt, "pdf"):
		return ".pdf"
	default:
		return ".jpg"
	}
}
