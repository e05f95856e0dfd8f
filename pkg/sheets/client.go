// Package sheets writes confirmed records to per-store Google Sheets.
package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Appender appends rows to one tab of a spreadsheet.
type Appender interface {
	AppendRows(ctx context.Context, sheetID, tab string, rows [][]any) error
}

// Client appends rows through the Sheets v4 values API.
type Client struct {
	values *sheetsapi.SpreadsheetsValuesService
}

// NewServiceAccountClient authenticates with a service-account JSON key.
func NewServiceAccountClient(ctx context.Context, credentialsJSON []byte, baseURL string) (*Client, error) {
	if len(bytes.TrimSpace(credentialsJSON)) == 0 {
		return nil, errors.New("sheets credentials required")
	}
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}
	return NewClient(ctx, cfg.Client(ctx), baseURL)
}

// NewClient uses an already authorized HTTP client. An empty baseURL keeps the
// public endpoint.
func NewClient(ctx context.Context, httpClient *http.Client, baseURL string) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL+"/"))
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init sheets service: %w", err)
	}
	return &Client{values: svc.Spreadsheets.Values}, nil
}

// AppendRows appends rows after the last row of tab, as if typed by a user.
func (c *Client) AppendRows(ctx context.Context, sheetID, tab string, rows [][]any) error {
	if strings.TrimSpace(sheetID) == "" {
		return errors.New("sheet id required")
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := c.values.Append(sheetID, tab+"!A:Z", &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", tab, err)
	}
	return nil
}
