// Package google reads raw disbursement rows from a Google Sheets tab whose
// first row holds the upstream field names.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"creditos/internal/core"
	"creditos/internal/source"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// SourceName is reported in snapshots and FetchErrors.
const SourceName = "sheets"

// Config selects the spreadsheet and the credentials used to read it. An
// OAuth client and token, written by creditos-sheets-auth, take precedence
// over a service account.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
	OAuthClientFile    string
	OAuthTokenFile     string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

var _ source.Fetcher = (*Client)(nil)

// New creates a Sheets client with read-only access to the spreadsheet.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Creditos"
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetName: sheet, logger: logger}, nil
}

func newSheetsService(ctx context.Context, cfg Config, logger *slog.Logger) (*gsheet.Service, error) {
	ts, kind, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Creating Google Sheets service",
		"credentials", kind,
		"scope", Scope)

	// The pooled transport carries the credentials; WithHTTPClient bypasses
	// every other auth option.
	hc := newHTTPClientWithPooling()
	hc.Transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: hc.Transport}

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

func (c *Client) Name() string { return SourceName }

// Fetch reads the whole tab with unformatted values.
func (c *Client) Fetch(ctx context.Context) (core.RawDataset, error) {
	if c.svc == nil {
		return nil, &core.FetchError{Source: SourceName, Err: errors.New("sheets service not initialized")}
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.sheetName).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		fe := &core.FetchError{Source: SourceName, Err: fmt.Errorf("read %s: %w", c.sheetName, err)}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			fe.StatusCode = gerr.Code
		}
		return nil, fe
	}

	rows := rowsToRaw(resp.Values)
	c.logger.InfoContext(ctx, "Sheet rows fetched", "sheet", c.sheetName, "rows", len(rows))
	return rows, nil
}
