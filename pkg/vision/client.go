// Package vision provides a client for the external tree-image classification
// service. The service is an opaque collaborator: it looks at a photo and
// returns a health verdict the registry core folds into record status.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/groveworks/canopy/internal/model"
)

// Status tags a classification result.
type Status string

const (
	// StatusOK means the service returned a verdict.
	StatusOK Status = "ok"
	// StatusUnavailable means the service was unreachable or overloaded.
	// Callers record the observation without a verdict instead of failing.
	StatusUnavailable Status = "unavailable"
)

// Request describes one photo to classify.
type Request struct {
	ImageURL     string `json:"image_url,omitempty"`
	ImageData    []byte `json:"image_data,omitempty"`
	DeclaredType string `json:"declared_type,omitempty"`
}

// Result is a tagged classification outcome.
type Result struct {
	Status  Status
	Verdict *model.ClassificationVerdict
}

// Client defines the classification operations.
type Client interface {
	// Classify submits a photo and returns the verdict, or an unavailable
	// result when the service cannot be reached.
	Classify(ctx context.Context, req Request) (*Result, error)
}

// Option configures the vision client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit bounds classify calls per second.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a classification client.
func NewClient(apiKey, baseURL string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes the request with exponential backoff on transient failures.
// Returns the response body and status code, or the last error.
func (c *httpClient) retryDo(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, eris.Wrap(err, "vision: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "vision: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("vision: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Classify(ctx context.Context, creq Request) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vision: rate limiter wait")
	}

	payload, err := json.Marshal(creq)
	if err != nil {
		return nil, eris.Wrap(err, "vision: marshal request")
	}

	body, statusCode, err := c.retryDo(ctx, c.baseURL+"/v1/classify", payload)
	if err != nil {
		// Network-level failure after retries: the collaborator is down, not
		// the caller's request.
		return &Result{Status: StatusUnavailable}, nil
	}

	if retryableStatusCode(statusCode) {
		return &Result{Status: StatusUnavailable}, nil
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("vision: unexpected status %d: %s", statusCode, string(body))
	}

	var verdict model.ClassificationVerdict
	if err := json.Unmarshal(body, &verdict); err != nil {
		return nil, eris.Wrap(err, "vision: unmarshal verdict")
	}
	return &Result{Status: StatusOK, Verdict: &verdict}, nil
}
