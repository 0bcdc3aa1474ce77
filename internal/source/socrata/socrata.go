// Package socrata reads the credit-disbursement dataset from a Socrata
// Open Data (SODA) JSON endpoint.
package socrata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"creditos/internal/core"
	"creditos/internal/source"
)

// SourceName is reported in snapshots and FetchErrors.
const SourceName = "socrata"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

type Client struct {
	endpoint string
	appToken string
	limit    int
	http     *http.Client
	logger   *slog.Logger
}

var _ source.Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for endpoint that asks for at most limit rows per
// fetch. appToken is sent as X-App-Token when non-empty.
func New(endpoint, appToken string, limit int, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse socrata endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("socrata endpoint must be http(s), got %q", endpoint)
	}
	if limit < 1 {
		return nil, fmt.Errorf("socrata row limit must be positive, got %d", limit)
	}
	c := &Client{
		endpoint: endpoint,
		appToken: strings.TrimSpace(appToken),
		limit:    limit,
		http:     newHTTPClientWithPooling(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return SourceName }

// Fetch performs one GET and decodes the JSON array of row objects.
func (c *Client) Fetch(ctx context.Context) (core.RawDataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var cause error
		if msg := strings.TrimSpace(string(body)); msg != "" {
			cause = errors.New(msg)
		}
		return nil, &core.FetchError{Source: SourceName, StatusCode: resp.StatusCode, Err: cause}
	}

	raw, err := decodeRows(resp.Body)
	if err != nil {
		return nil, &core.FetchError{Source: SourceName, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.InfoContext(ctx, "Socrata dataset fetched",
		"rows", len(raw),
		"limit", c.limit,
		"duration_ms", time.Since(start).Milliseconds())
	return raw, nil
}

func (c *Client) requestURL() string {
	u, _ := url.Parse(c.endpoint)
	q := u.Query()
	q.Set("$limit", strconv.Itoa(c.limit))
	u.RawQuery = q.Encode()
	return u.String()
}

// decodeRows reads a JSON array of objects. Numbers are kept as json.Number
// so the normalizer sees the upstream text unchanged.
func decodeRows(r io.Reader) (core.RawDataset, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	out := make(core.RawDataset, len(rows))
	for i, row := range rows {
		out[i] = core.RawRecord(row)
	}
	return out, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	// No client timeout: callers bound each fetch with a context deadline.
	return &http.Client{Transport: transport}
}
