package hunter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindEmail_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/email-finder", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "Jane", r.URL.Query().Get("first_name"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"email": "jane.doe@acme.com",
				"score": 92,
				"position": "VP Engineering",
				"company": "Acme Corp",
				"first_name": "Jane",
				"last_name": "Doe",
				"verification": {"status": "valid", "date": "2026-07-01"}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.FindEmail(context.Background(), FinderRequest{
		Domain: "acme.com", FirstName: "Jane", LastName: "Doe",
	})

	require.NoError(t, err)
	assert.Equal(t, "jane.doe@acme.com", got.Data.Email)
	assert.Equal(t, 92, got.Data.Score)
	assert.Equal(t, "valid", got.Data.Verification.Status)
	assert.NotEmpty(t, got.Raw)
}

func TestFindEmail_EmptyEmailIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"email": "", "score": 0}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FindEmail(context.Background(), FinderRequest{Domain: "acme.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindEmail_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"id":"too_many_requests"}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FindEmail(context.Background(), FinderRequest{Domain: "acme.com"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, time.Minute, apiErr.RetryAfter)
}

func TestFindEmail_Forbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":[{"id":"forbidden"}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.FindEmail(context.Background(), FinderRequest{Domain: "acme.com"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, time.Duration(0), apiErr.RetryAfter)
}
