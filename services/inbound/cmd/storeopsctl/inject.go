package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storeops/internal/servicetoken"
	"storeops/internal/util"
	"storeops/pkg/domain"
)

type injectOptions struct {
	URL        string
	KeyPath    string
	KeyID      string
	MessageID  string
	From       string
	Text       string
	MediaRef   string
	MediaKind  string
	BindSender bool
}

func injectCmd() *cobra.Command {
	opts := injectOptions{
		URL:     envOr("STOREOPS_INBOUND_URL", "http://localhost:8090"),
		KeyPath: os.Getenv("STOREOPS_INGRESS_JWT_PRIVATE_KEY_PATH"),
		KeyID:   envOr("STOREOPS_INGRESS_JWT_KEY_ID", servicetoken.DefaultKeyID),
	}
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Submit a message to the inbound service as if it came from chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
				PrivateKeyPath: opts.KeyPath,
				KeyID:          opts.KeyID,
				Issuer:         servicetoken.IssuerCLI,
			})
			if err != nil {
				return err
			}
			status, body, err := inject(cmd.Context(), http.DefaultClient, signer, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, strings.TrimSpace(string(body)))
			if status >= 300 {
				return fmt.Errorf("inbound rejected message: %d", status)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.URL, "url", opts.URL, "inbound service base URL")
	f.StringVar(&opts.KeyPath, "key", opts.KeyPath, "RSA private key for signing ingress tokens")
	f.StringVar(&opts.KeyID, "key-id", opts.KeyID, "kid header for the signed token")
	f.StringVar(&opts.MessageID, "message-id", "", "message id (default: generated)")
	f.StringVar(&opts.From, "from", "", "sender id, e.g. +15550001")
	f.StringVar(&opts.Text, "text", "", "message text")
	f.StringVar(&opts.MediaRef, "media-ref", "", "transport media reference")
	f.StringVar(&opts.MediaKind, "media-kind", "", "media MIME type hint")
	f.BoolVar(&opts.BindSender, "bind-sender", true, "restrict the token to the --from sender")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func inject(ctx context.Context, client *http.Client, signer *servicetoken.Signer, opts injectOptions) (int, []byte, error) {
	msg := domain.InboundMessage{
		MessageID:  strings.TrimSpace(opts.MessageID),
		SenderID:   strings.TrimSpace(opts.From),
		Text:       opts.Text,
		MediaRef:   strings.TrimSpace(opts.MediaRef),
		MediaKind:  strings.TrimSpace(opts.MediaKind),
		ReceivedAt: time.Now().UTC(),
	}
	if msg.MessageID == "" {
		msg.MessageID = "cli." + util.NewID()
	}
	if strings.TrimSpace(msg.Text) == "" && msg.MediaRef == "" {
		return 0, nil, fmt.Errorf("--text or --media-ref required")
	}
	bound := ""
	if opts.BindSender {
		bound = msg.SenderID
	}
	token, err := signer.Sign(servicetoken.AudienceInbound, bound)
	if err != nil {
		return 0, nil, fmt.Errorf("sign ingress token: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(opts.URL, "/")+"/internal/inbound", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post inbound: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
