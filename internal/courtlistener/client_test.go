package courtlistener

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

func TestLookup_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/citation-lookup/", r.URL.Path)
		require.Equal(t, "Token test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "410 U.S. 113", r.PostForm.Get("text"))

		w.Header().Set("X-RateLimit-Remaining", "59")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"citation": "410 U.S. 113",
			"normalized_citations": ["410 U.S. 113"],
			"status": 200,
			"clusters": [{
				"absolute_url": "/opinion/108713/roe-v-wade/",
				"case_name": "Roe v. Wade",
				"date_filed": "1973-01-22",
				"court": "Supreme Court of the United States",
				"docket_id": 108713
			}]
		}]`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	match, err := client.Lookup(context.Background(), "410 U.S. 113")
	require.NoError(t, err)

	assert.True(t, match.Found)
	assert.Equal(t, "Roe v. Wade", match.CanonicalName)
	assert.Equal(t, "1973-01-22", match.CanonicalDate)
	assert.Equal(t, "Supreme Court of the United States", match.Court)
	assert.Equal(t, "/opinion/108713/roe-v-wade/", match.URL)
	assert.Equal(t, "108713", match.Docket)
	assert.Equal(t, 59, client.RemainingQuota())
}

func TestLookup_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"citation": "999 U.S. 999",
			"status": 404,
			"error_message": "Citation not found",
			"clusters": []
		}]`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	match, err := client.Lookup(context.Background(), "999 U.S. 999")
	require.NoError(t, err)

	assert.False(t, match.Found)
	assert.Empty(t, match.CanonicalName)
}

func TestLookup_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.Lookup(context.Background(), "410 U.S. 113")

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2*time.Minute, rle.RetryAfter)
}

func TestLookup_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.Lookup(context.Background(), "410 U.S. 113")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Transient())
}

func TestLookup_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.Lookup(context.Background(), "not a citation")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient())
}

func TestLookup_NetworkError(t *testing.T) {
	client := NewClient("test-key", WithBaseURL("http://127.0.0.1:1"), WithTimeout(200*time.Millisecond))
	_, err := client.Lookup(context.Background(), "410 U.S. 113")
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestRemainingQuota_UnknownUntilFirstResponse(t *testing.T) {
	client := NewClient("test-key")
	assert.Equal(t, -1, client.RemainingQuota())
}
