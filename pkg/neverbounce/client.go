// Package neverbounce provides a client for the NeverBounce single-check API.
package neverbounce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.neverbounce.com/v4"

// Verdict is NeverBounce's deliverability classification.
type Verdict string

const (
	VerdictValid      Verdict = "valid"
	VerdictInvalid    Verdict = "invalid"
	VerdictDisposable Verdict = "disposable"
	VerdictCatchall   Verdict = "catchall"
	VerdictUnknown    Verdict = "unknown"
)

// APIError is a non-2xx response from the NeverBounce API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neverbounce: status %d: %s", e.StatusCode, e.Body)
}

// CheckResponse is the response from GET /single/check.
type CheckResponse struct {
	Status string   `json:"status"` // "success" or an error code
	Result Verdict  `json:"result"`
	Flags  []string `json:"flags"`
}

// Deliverable reports whether the verdict is safe to send to.
func (r *CheckResponse) Deliverable() bool {
	return r.Result == VerdictValid || r.Result == VerdictCatchall
}

// Client defines the NeverBounce operations used by the verification worker.
type Client interface {
	// Check verifies a single email address.
	Check(ctx context.Context, email string) (*CheckResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a NeverBounce client. Single-check calls are slow by
// design (the API probes the mailbox), hence the generous timeout.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Check(ctx context.Context, email string) (*CheckResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "neverbounce: rate limiter")
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("email", email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/single/check?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "neverbounce: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "neverbounce: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "neverbounce: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var result CheckResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "neverbounce: unmarshal response")
	}
	if result.Status != "success" {
		return nil, eris.Errorf("neverbounce: api error status %q", result.Status)
	}

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
