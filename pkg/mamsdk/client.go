// Package mamsdk is the Go client for the mam HTTP API, used by mamctl.
package mamsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/merr"
)

// Client talks to one API server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Token:   cfg.Token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// codeFor classifies a response status so callers can use merr helpers.
func codeFor(status int) merr.Code {
	switch status {
	case http.StatusBadRequest:
		return merr.CodeInvalidKey
	case http.StatusUnauthorized:
		return merr.CodeUnauthorized
	case http.StatusForbidden:
		return merr.CodeForbidden
	case http.StatusNotFound:
		return merr.CodeNotFound
	case http.StatusConflict:
		return merr.CodeInvalidTransition
	case http.StatusBadGateway:
		return merr.CodeStorage
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return merr.CodeQueue
	default:
		return merr.CodeUnknown
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := "mamsdk." + strings.ToLower(method)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return merr.New(merr.CodeUnknown, op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return merr.New(merr.CodeUnknown, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return merr.New(merr.CodeUnknown, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return merr.New(codeFor(resp.StatusCode), op, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return merr.New(merr.CodeUnknown, op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Asset fetches an asset by ID.
func (c *Client) Asset(ctx context.Context, id string) (*assets.Asset, error) {
	var a assets.Asset
	if err := c.do(ctx, http.MethodGet, "/assets/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Retry schedules a new build for a failed asset.
func (c *Client) Retry(ctx context.Context, id string) (*assets.Asset, bool, error) {
	var out struct {
		Asset   *assets.Asset `json:"asset"`
		Retried bool          `json:"retried"`
	}
	if err := c.do(ctx, http.MethodPost, "/assets/"+url.PathEscape(id)+"/retry", nil, &out); err != nil {
		return nil, false, err
	}
	return out.Asset, out.Retried, nil
}

// Promote promotes a staging key.
func (c *Client) Promote(ctx context.Context, stagingKey string, metadata map[string]string) (*assets.Asset, error) {
	in := map[string]any{"stagingKey": stagingKey}
	if len(metadata) > 0 {
		in["metadata"] = metadata
	}
	var a assets.Asset
	if err := c.do(ctx, http.MethodPost, "/promote", in, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// PreviewStatus polls readiness of a preview prefix.
func (c *Client) PreviewStatus(ctx context.Context, prefix string) (bool, assets.Status, error) {
	var out struct {
		Ready  bool          `json:"ready"`
		Status assets.Status `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/preview-status?prefix="+url.QueryEscape(prefix), nil, &out); err != nil {
		return false, "", err
	}
	return out.Ready, out.Status, nil
}

// DeadLetters lists up to limit dead-lettered jobs, newest first.
func (c *Client) DeadLetters(ctx context.Context, limit int) ([]jobqueue.DeadLetter, error) {
	var out struct {
		DeadLetters []jobqueue.DeadLetter `json:"deadLetters"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/dead-letters?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.DeadLetters, nil
}

// PendingEntry mirrors the admin pending listing.
type PendingEntry struct {
	EntryID    string `json:"entryId"`
	Consumer   string `json:"consumer"`
	IdleMS     int64  `json:"idleMs"`
	Deliveries int64  `json:"deliveries"`
}

// Pending lists delivered but unacknowledged jobs idle for at least minIdle.
func (c *Client) Pending(ctx context.Context, minIdle time.Duration) ([]PendingEntry, error) {
	var out struct {
		Pending []PendingEntry `json:"pending"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/pending?minIdle="+url.QueryEscape(minIdle.String()), nil, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}
