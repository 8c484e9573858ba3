// Package prospeo provides a client for the Prospeo email-finder API.
package prospeo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.prospeo.io"

// ErrNotFound means Prospeo could not find an email for the person.
var ErrNotFound = eris.New("prospeo: email not found")

// APIError is a non-2xx response from the Prospeo API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prospeo: status %d: %s", e.StatusCode, e.Body)
}

// FinderRequest identifies the person to find an email for.
type FinderRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"` // company domain
}

// FinderData is the payload of a successful email-finder response.
type FinderData struct {
	Email       string `json:"email"`
	EmailStatus string `json:"email_status"` // "VALID", "ACCEPT_ALL", "UNKNOWN"
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Domain      string `json:"domain"`
}

// FinderResponse is the response envelope from POST /email-finder.
type FinderResponse struct {
	Error    bool            `json:"error"`
	Response FinderData      `json:"response"`
	Raw      json.RawMessage `json:"-"`
}

// CallOption configures a single request's network identity.
type CallOption func(*callOpts)

type callOpts struct {
	proxyURL  string
	userAgent string
}

// WithProxy routes the request through the given proxy endpoint.
func WithProxy(proxyURL string) CallOption {
	return func(o *callOpts) { o.proxyURL = proxyURL }
}

// WithUserAgent overrides the request's User-Agent header.
func WithUserAgent(ua string) CallOption {
	return func(o *callOpts) { o.userAgent = ua }
}

// Client defines the Prospeo operations used by the waterfall.
type Client interface {
	// FindEmail looks up the work email for a person at a company domain.
	// Returns ErrNotFound when Prospeo has no candidate.
	FindEmail(ctx context.Context, req FinderRequest, opts ...CallOption) (*FinderResponse, error)
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

// NewClient creates a Prospeo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FindEmail(ctx context.Context, finderReq FinderRequest, opts ...CallOption) (*FinderResponse, error) {
	co := &callOpts{}
	for _, opt := range opts {
		opt(co)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "prospeo: rate limiter")
	}

	payload, err := json.Marshal(finderReq)
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email-finder", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-KEY", c.apiKey)
	if co.userAgent != "" {
		req.Header.Set("User-Agent", co.userAgent)
	}

	hc := c.http
	if co.proxyURL != "" {
		pu, parseErr := url.Parse(co.proxyURL)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "prospeo: parse proxy url %s", co.proxyURL)
		}
		hc = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(pu)},
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "prospeo: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		retryAfter := time.Duration(0)
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       truncate(string(body), 512),
		}
	}

	var result FinderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "prospeo: unmarshal response")
	}
	// Prospeo signals "no result" inside a 200 envelope.
	if result.Error || result.Response.Email == "" {
		return nil, ErrNotFound
	}
	result.Raw = json.RawMessage(body)

	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
