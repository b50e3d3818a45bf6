// Package webclient is the shared HTTP layer for collectors: per-source
// timeout, User-Agent, circuit breaker, and classification of responses into
// the transient/permanent failure taxonomy.
package webclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

// Client wraps http.Client with resilience and error classification. One
// Client per external source, so a broken source trips only its own breaker.
type Client struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	userAgent  string
}

// New creates a client for the named source.
func New(name string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		name: name,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
		userAgent: userAgent,
	}
}

// Get fetches url and returns the response body. Errors come back classified:
// network failures, 429 and 5xx responses, an open breaker, and truncated
// bodies are transient; other non-2xx statuses are permanent.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doGet(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.Transient(c.name, fmt.Errorf("circuit breaker open: %w", err))
		}
		return nil, err
	}
	body, ok := result.([]byte)
	if !ok {
		return nil, domain.Transientf(c.name, "unexpected result type from circuit breaker")
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Permanent(c.name, fmt.Errorf("create request: %w", err))
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(c.name, fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// Drain a little so the connection can be reused, then retry later.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return nil, domain.Transientf(c.name, "status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, domain.Permanentf(c.name, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(c.name, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}
