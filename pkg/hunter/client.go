// Package hunter provides a client for the Hunter email-finder API.
package hunter

import (
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

const defaultBaseURL = "https://api.hunter.io/v2"

// ErrNotFound means Hunter could not find an email for the person.
var ErrNotFound = eris.New("hunter: email not found")

// APIError is a non-2xx response from the Hunter API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hunter: status %d: %s", e.StatusCode, e.Body)
}

// FinderRequest identifies the person to find an email for.
type FinderRequest struct {
	Domain    string
	FirstName string
	LastName  string
}

// Verification reports Hunter's own deliverability assessment.
type Verification struct {
	Status string `json:"status"` // "valid", "accept_all", "unknown"
	Date   string `json:"date"`
}

// FinderData is the payload of a successful email-finder response.
type FinderData struct {
	Email        string       `json:"email"`
	Score        int          `json:"score"` // 0-100
	Position     string       `json:"position"`
	Company      string       `json:"company"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Verification Verification `json:"verification"`
}

// FinderResponse is the response from GET /email-finder.
type FinderResponse struct {
	Data FinderData      `json:"data"`
	Raw  json.RawMessage `json:"-"`
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

// Client defines the Hunter operations used by the waterfall.
type Client interface {
	// FindEmail looks up the most likely email for a person at a domain.
	// Returns ErrNotFound when Hunter has no candidate.
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

// NewClient creates a Hunter client.
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
		return nil, eris.Wrap(err, "hunter: rate limiter")
	}

	q := url.Values{}
	q.Set("domain", finderReq.Domain)
	q.Set("first_name", finderReq.FirstName)
	q.Set("last_name", finderReq.LastName)
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/email-finder?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: create request")
	}
	req.Header.Set("Accept", "application/json")
	if co.userAgent != "" {
		req.Header.Set("User-Agent", co.userAgent)
	}

	hc := c.http
	if co.proxyURL != "" {
		pu, parseErr := url.Parse(co.proxyURL)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "hunter: parse proxy url %s", co.proxyURL)
		}
		hc = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(pu)},
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hunter: read response body")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header),
			Body:       truncate(string(body), 512),
		}
	}

	var result FinderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "hunter: unmarshal response")
	}
	// Hunter returns 200 with an empty email when no candidate exists.
	if result.Data.Email == "" {
		return nil, ErrNotFound
	}
	result.Raw = json.RawMessage(body)

	return &result, nil
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
