// Package clearbit provides a client for the Clearbit prospector API.
package clearbit

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

const defaultBaseURL = "https://person.clearbit.com/v2"

// ErrNotFound means Clearbit has no record for the person.
var ErrNotFound = eris.New("clearbit: person not found")

// APIError is a non-2xx response from the Clearbit API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clearbit: status %d: %s", e.StatusCode, e.Body)
}

// FindRequest identifies the person to prospect.
type FindRequest struct {
	Domain    string
	FirstName string
	LastName  string
}

// Company holds firmographic metadata on a prospected person.
type Company struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Industry  string `json:"industry"`
	Employees int    `json:"employees"`
	Location  string `json:"location"`
}

// PersonResponse is the response from GET /people/find.
type PersonResponse struct {
	FullName      string          `json:"full_name"`
	GivenName     string          `json:"given_name"`
	FamilyName    string          `json:"family_name"`
	Email         string          `json:"email"`
	EmailVerified bool            `json:"email_verified"`
	Title         string          `json:"title"`
	Seniority     string          `json:"seniority"`
	Company       *Company        `json:"company,omitempty"`
	Raw           json.RawMessage `json:"-"`
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

// Client defines the Clearbit operations used by the waterfall.
type Client interface {
	// FindPerson prospects a person by name + company domain.
	// Returns ErrNotFound when Clearbit has no record.
	FindPerson(ctx context.Context, req FindRequest, opts ...CallOption) (*PersonResponse, error)
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

// NewClient creates a Clearbit client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
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

func (c *httpClient) FindPerson(ctx context.Context, findReq FindRequest, opts ...CallOption) (*PersonResponse, error) {
	co := &callOpts{}
	for _, opt := range opts {
		opt(co)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "clearbit: rate limiter")
	}

	q := url.Values{}
	q.Set("domain", findReq.Domain)
	q.Set("given_name", findReq.FirstName)
	q.Set("family_name", findReq.LastName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/people/find?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if co.userAgent != "" {
		req.Header.Set("User-Agent", co.userAgent)
	}

	hc := c.http
	if co.proxyURL != "" {
		pu, parseErr := url.Parse(co.proxyURL)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "clearbit: parse proxy url %s", co.proxyURL)
		}
		hc = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(pu)},
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: read response body")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
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

	var result PersonResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "clearbit: unmarshal response")
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
