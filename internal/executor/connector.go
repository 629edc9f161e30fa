package executor

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

	"github.com/venuesync/backend/internal/circuitbreaker"
)

// ConnectorConfig points a connector at one external service.
type ConnectorConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIError is a non-2xx response from an external service.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, body)
}

// Temporary reports whether the service itself failed, as opposed to
// rejecting the request.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Connector is a JSON-over-HTTP client for one service. Calls go through a
// circuit breaker that opens on transport errors and 5xx responses.
type Connector struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewConnector builds a connector. breaker may be nil.
func NewConnector(name string, cfg ConnectorConfig, breaker *circuitbreaker.CircuitBreaker) *Connector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Connector{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// BreakerConfig returns a breaker configuration that ignores client errors.
func BreakerConfig(base circuitbreaker.Config) circuitbreaker.Config {
	base.IsFailure = func(err error) bool {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Temporary()
		}
		return true
	}
	return base
}

// Do sends body as JSON to path on behalf of venueID and decodes the
// response into out when both are non-nil.
func (c *Connector) Do(ctx context.Context, method, path, venueID string, body, out any) error {
	call := func(ctx context.Context) error { return c.do(ctx, method, path, venueID, body, out) }
	if c.breaker == nil {
		return call(ctx)
	}
	return c.breaker.Execute(ctx, call)
}

func (c *Connector) do(ctx context.Context, method, path, venueID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", c.name, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if venueID != "" {
		req.Header.Set("X-Venue-ID", venueID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.name, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Service: c.name, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}
