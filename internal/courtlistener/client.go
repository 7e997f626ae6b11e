package courtlistener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

var _ interfaces.CitationDatabase = (*Client)(nil)

const (
	// DefaultBaseURL is the base URL for the CourtListener REST API.
	DefaultBaseURL = "https://www.courtlistener.com/api/rest/v4"

	// DefaultTimeout is the per-call HTTP timeout.
	DefaultTimeout = 30 * time.Second
)

// Client talks to the CourtListener citation-lookup endpoint. One Lookup is
// one HTTP call; retry and rate limiting belong to the verifier, not here.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger

	// remainingQuota mirrors the most recent X-RateLimit-Remaining header,
	// -1 until the server has told us.
	remainingQuota atomic.Int64
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new CourtListener API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	c.remainingQuota.Store(-1)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Lookup resolves a normalized citation ("410 U.S. 113") against the
// citation-lookup endpoint. A parse failure or an empty cluster list is an
// authoritative negative: Found=false, nil error. Transport failures, 5xx
// and 429 come back as errors for the verifier's retry policy.
func (c *Client) Lookup(ctx context.Context, normalizedCitation string) (*models.CitationMatch, error) {
	form := url.Values{}
	form.Set("text", normalizedCitation)

	endpoint := "/citation-lookup/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("citation", normalizedCitation).
			Msg("Citation lookup request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	c.trackQuota(resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   endpoint,
		}
	}

	var results []lookupResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return matchFromResults(results), nil
}

// RemainingQuota reports the lookups left in the current budget window,
// -1 when the backend has not told us yet.
func (c *Client) RemainingQuota() int {
	return int(c.remainingQuota.Load())
}

func (c *Client) trackQuota(resp *http.Response) {
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.remainingQuota.Store(int64(n))
		}
	}
}

// matchFromResults picks the first successfully resolved citation with at
// least one cluster. Multiple clusters for one citation is ambiguity; the
// first (best-ranked by the API) wins.
func matchFromResults(results []lookupResult) *models.CitationMatch {
	for _, r := range results {
		if r.Status != http.StatusOK || len(r.Clusters) == 0 {
			continue
		}
		cl := r.Clusters[0]
		court := cl.Court
		if court == "" {
			court = cl.CourtID
		}
		match := &models.CitationMatch{
			Found:         true,
			CanonicalName: cl.CaseName,
			CanonicalDate: cl.DateFiled,
			Court:         court,
			URL:           cl.AbsoluteURL,
		}
		if cl.DocketID > 0 {
			match.Docket = strconv.FormatInt(cl.DocketID, 10)
		}
		return match
	}
	return &models.CitationMatch{Found: false}
}

// parseRetryAfter reads the Retry-After header in either delta-seconds or
// HTTP-date form.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
