package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"studysync/internal/config"
	"studysync/internal/models"

	"golang.org/x/time/rate"
)

// DeliveryError is returned when the remote answered with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Status     string
}

func (e *DeliveryError) Error() string {
	if e.Status != "" {
		return "remote responded " + e.Status
	}
	return fmt.Sprintf("remote responded %d", e.StatusCode)
}

// HTTPTransport delivers queued actions to the remote service over HTTP.
type HTTPTransport struct {
	baseURL    *url.URL
	headers    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPTransport builds a transport from the remote section of the config.
// A zero rate limit means deliveries are not throttled.
func NewHTTPTransport(cfg config.RemoteConfig) (*HTTPTransport, error) {
	t := &HTTPTransport{
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.Timeout <= 0 {
		t.httpClient.Timeout = 15 * time.Second
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		t.baseURL = u
	}
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}
	return t, nil
}

// Deliver performs one attempt. Any 2xx response is success.
func (t *HTTPTransport) Deliver(ctx context.Context, req models.DeliveryRequest) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	endpoint, err := t.resolve(req.URL)
	if err != nil {
		return err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ActionID != "" {
		httpReq.Header.Set("Idempotency-Key", req.ActionID)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deliver %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (t *HTTPTransport) resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", models.ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidURL, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if t.baseURL == nil {
		return "", fmt.Errorf("%w: relative url %q without base url", models.ErrInvalidURL, raw)
	}
	return t.baseURL.ResolveReference(u).String(), nil
}
