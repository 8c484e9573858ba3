package apollo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPerson_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/people/match", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req MatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Jane", req.FirstName)
		assert.Equal(t, "acme.com", req.Domain)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(MatchResponse{
			Person: &Person{
				FirstName:   "Jane",
				LastName:    "Doe",
				Email:       "jane.doe@acme.com",
				EmailStatus: "verified",
				Title:       "VP Engineering",
				Organization: &Organization{
					Name:     "Acme Corp",
					Industry: "Manufacturing",
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.MatchPerson(context.Background(), MatchRequest{
		FirstName: "Jane", LastName: "Doe", Domain: "acme.com",
	})

	require.NoError(t, err)
	require.NotNil(t, got.Person)
	assert.Equal(t, "jane.doe@acme.com", got.Person.Email)
	assert.Equal(t, "verified", got.Person.EmailStatus)
	assert.Equal(t, "Acme Corp", got.Person.Organization.Name)
	assert.NotEmpty(t, got.Raw)
}

func TestMatchPerson_NotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "404 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "200 with null person",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"person": null}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			_, err := client.MatchPerson(context.Background(), MatchRequest{Domain: "acme.com"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMatchPerson_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.MatchPerson(context.Background(), MatchRequest{Domain: "acme.com"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
}

func TestMatchPerson_UserAgentOption(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0 (rotation-7)", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"person":{"first_name":"Jane","email":"j@acme.com"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.MatchPerson(context.Background(), MatchRequest{Domain: "acme.com"},
		WithUserAgent("Mozilla/5.0 (rotation-7)"))
	require.NoError(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))

	h.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))
}
