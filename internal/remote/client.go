// Package remote talks to the property-management REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rentsync/internal/config"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the remote answers 404 for a resource.
var ErrNotFound = errors.New("remote resource not found")

// StatusError is a non-2xx answer from the remote API.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request later may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is a network failure or a retryable status.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return err != nil && !errors.Is(err, ErrNotFound)
}

// Client performs JSON writes against one base URL. Requests are throttled by
// a shared token bucket.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client from config. A zero RPS disables throttling.
func NewClient(cfg config.RemoteConfig) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Create posts body to the collection.
func (c *Client) Create(ctx context.Context, collection string, body json.RawMessage, idempotencyKey string) error {
	return c.send(ctx, http.MethodPost, c.collectionURL(collection), body, idempotencyKey)
}

// Update replaces the entity with body.
func (c *Client) Update(ctx context.Context, collection, id string, body json.RawMessage, idempotencyKey string) error {
	return c.send(ctx, http.MethodPut, c.entityURL(collection, id), body, idempotencyKey)
}

// Delete removes the entity. A missing entity counts as deleted.
func (c *Client) Delete(ctx context.Context, collection, id string, idempotencyKey string) error {
	err := c.send(ctx, http.MethodDelete, c.entityURL(collection, id), nil, idempotencyKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

type versionResponse struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// LastModified returns the remote updated_at of an entity, or ErrNotFound.
func (c *Client) LastModified(ctx context.Context, collection, id string) (time.Time, error) {
	endpoint := c.entityURL(collection, id)
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, err
	}

	var out versionResponse
	if err := c.do(req, &out); err != nil {
		return time.Time{}, err
	}
	return out.UpdatedAt, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body json.RawMessage, idempotencyKey string) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body json.RawMessage) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     req.Method,
			URL:        req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) collectionURL(collection string) string {
	return c.baseURL + "/" + strings.Trim(collection, "/")
}

func (c *Client) entityURL(collection, id string) string {
	return c.collectionURL(collection) + "/" + url.PathEscape(id)
}
