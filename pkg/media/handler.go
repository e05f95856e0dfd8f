// Package media downloads chat attachments and persists them to object storage.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storeops/pkg/storage"
)

const (
	DefaultGraphURL = "https://graph.facebook.com/v22.0"

	maxMediaBytes = 25 << 20
)

var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Result is a fetched and stored attachment.
type Result struct {
	Buffer   []byte
	URL      string
	MimeType string
}

// Handler resolves transport media references through the WhatsApp Graph API.
type Handler struct {
	graphURL    string
	accessToken string
	http        *http.Client
	objects     storage.ObjectStore
	now         func() time.Time
}

func NewHandler(graphURL, accessToken string, objects storage.ObjectStore, timeout time.Duration) *Handler {
	if strings.TrimSpace(graphURL) == "" {
		graphURL = DefaultGraphURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		graphURL:    strings.TrimRight(graphURL, "/"),
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
		objects:     objects,
		now:         time.Now,
	}
}

// Process fetches ref and stores it under the message's key.
func (h *Handler) Process(ctx context.Context, ref, storeID, messageID, mimeHint string) (Result, error) {
	buf, mimeType, err := h.Fetch(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	mimeType = resolveMimeType(mimeType, mimeHint)
	url, err := h.Store(ctx, buf, storeID, messageID, mimeType)
	if err != nil {
		return Result{}, err
	}
	return Result{Buffer: buf, URL: url, MimeType: mimeType}, nil
}

// resolveMimeType keeps the fetched type unless it is missing or generic. The
// hint only counts when it is a full type/subtype, not a kind like "document".
func resolveMimeType(fetched, hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if !strings.Contains(hint, "/") {
		return fetched
	}
	if fetched == "" || fetched == "application/octet-stream" {
		return hint
	}
	return fetched
}

// Fetch resolves ref to a temporary download URL, then downloads it with the
// same bearer token.
func (h *Handler) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", errors.New("media ref required")
	}
	body, _, err := h.get(ctx, h.graphURL+"/"+ref)
	if err != nil {
		return nil, "", fmt.Errorf("resolve media %s: %w", ref, err)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, "", fmt.Errorf("decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s has no download url", ref)
	}
	data, contentType, err := h.get(ctx, meta.URL)
	if err != nil {
		return nil, "", fmt.Errorf("download media %s: %w", ref, err)
	}
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// Store writes buf to {storeId}/{yyyy}/{mm}/{dd}/{messageId}.{ext} and returns its URL.
func (h *Handler) Store(ctx context.Context, buf []byte, storeID, messageID, mimeType string) (string, error) {
	if h.objects == nil {
		return "", errors.New("object storage not configured")
	}
	key := ObjectKey(storeID, messageID, mimeType, h.now())
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if err := h.objects.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), mimeType); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}
	url, err := h.objects.URL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("media url: %w", err)
	}
	return url, nil
}

func (h *Handler) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+h.accessToken)
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxMediaBytes {
		return nil, "", ErrMediaTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ObjectKey is the storage key of a message attachment received at t.
func ObjectKey(storeID, messageID, mimeType string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.%s", storeID, t.Year(), int(t.Month()), t.Day(), messageID, Extension(mimeType))
}

// Extension maps a mime type to the stored file extension.
func Extension(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "png"):
		return "png"
	case strings.Contains(mt, "pdf"):
		return "pdf"
	case strings.Contains(mt, "webp"):
		return "webp"
	default:
		return "jpg"
	}
}
