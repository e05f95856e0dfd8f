// Package notify sends outbound chat messages and formats their text.
package notify

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

	"golang.org/x/time/rate"

	"storeops/internal/util"
)

const DefaultGraphURL = "https://graph.facebook.com/v22.0"

// Sender delivers a text message to a chat identity.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

type WhatsAppConfig struct {
	GraphURL      string
	AccessToken   string
	PhoneNumberID string
	// RatePerSecond caps outbound sends; 0 means unlimited.
	RatePerSecond float64
	Timeout       time.Duration
}

// WhatsAppSender posts text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
}

func NewWhatsAppSender(cfg WhatsAppConfig) (*WhatsAppSender, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp phone number id required")
	}
	graphURL := strings.TrimRight(strings.TrimSpace(cfg.GraphURL), "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &WhatsAppSender{
		endpoint: graphURL + "/" + cfg.PhoneNumberID + "/messages",
		token:    cfg.AccessToken,
		http:     &http.Client{Timeout: timeout},
		limiter:  limiter,
	}, nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (s *WhatsAppSender) Send(ctx context.Context, to, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send throttled: %w", err)
	}
	msg := textMessage{MessagingProduct: "whatsapp", To: to, Type: "text"}
	msg.Text.Body = text
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send whatsapp message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(body, &out)
	outboundID := ""
	if len(out.Messages) > 0 {
		outboundID = out.Messages[0].ID
	}
	util.LoggerFromContext(ctx).Info("whatsapp message sent", "to", to, "outbound_id", outboundID)
	return nil
}
