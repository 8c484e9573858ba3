// Package apollo provides a client for the Apollo people-match API.
package apollo

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

const defaultBaseURL = "https://api.apollo.io/api/v1"

// ErrNotFound means Apollo ran the match and found no person.
var ErrNotFound = eris.New("apollo: person not found")

// APIError is a non-2xx response from the Apollo API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: status %d: %s", e.StatusCode, e.Body)
}

// MatchRequest identifies the person to look up.
type MatchRequest struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Domain      string `json:"domain,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// Organization holds company metadata on a matched person.
type Organization struct {
	Name               string `json:"name"`
	WebsiteURL         string `json:"website_url"`
	Industry           string `json:"industry"`
	EstimatedEmployees int    `json:"estimated_num_employees"`
}

// Person is a matched person record.
type Person struct {
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"` // "verified", "guessed", "unavailable"
	Title        string        `json:"title"`
	LinkedInURL  string        `json:"linkedin_url"`
	Organization *Organization `json:"organization,omitempty"`
}

// MatchResponse is the response from POST /people/match.
type MatchResponse struct {
	Person *Person         `json:"person"`
	Raw    json.RawMessage `json:"-"`
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

// Client defines the Apollo operations used by the waterfall.
type Client interface {
	// MatchPerson looks up a person by name + company domain.
	// Returns ErrNotFound when Apollo has no match.
	MatchPerson(ctx context.Context, req MatchRequest, opts ...CallOption) (*MatchResponse, error)
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

// NewClient creates an Apollo client.
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

func (c *httpClient) MatchPerson(ctx context.Context, matchReq MatchRequest, opts ...CallOption) (*MatchResponse, error) {
	co := &callOpts{}
	for _, opt := range opts {
		opt(co)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "apollo: rate limiter")
	}

	payload, err := json.Marshal(matchReq)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/people/match", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if co.userAgent != "" {
		req.Header.Set("User-Agent", co.userAgent)
	}

	body, statusCode, header, err := doRequest(c.http, req, co.proxyURL)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: request failed")
	}

	switch {
	case statusCode == http.StatusOK:
		// fall through to decode
	case statusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &APIError{
			StatusCode: statusCode,
			RetryAfter: parseRetryAfter(header),
			Body:       truncate(string(body), 512),
		}
	}

	var result MatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal response")
	}
	if result.Person == nil {
		return nil, ErrNotFound
	}
	result.Raw = json.RawMessage(body)

	return &result, nil
}

// doRequest executes a single HTTP attempt, optionally through a proxy.
// No retries here: retry and identity rotation belong to the caller.
func doRequest(base *http.Client, req *http.Request, proxyURL string) ([]byte, int, http.Header, error) {
	hc := base
	if proxyURL != "" {
		pu, err := url.Parse(proxyURL)
		if err != nil {
			return nil, 0, nil, eris.Wrapf(err, "parse proxy url %s", proxyURL)
		}
		hc = &http.Client{
			Timeout:   base.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(pu)},
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, eris.Wrap(err, "read response body")
	}
	return body, resp.StatusCode, resp.Header, nil
}

// parseRetryAfter reads a Retry-After header as a delay in seconds.
func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
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
