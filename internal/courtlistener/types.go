// Package courtlistener provides a client for the CourtListener
// citation-lookup API, the citation database behind cluster verification.
package courtlistener

import (
	"fmt"
	"time"
)

// lookupResult is one entry in the citation-lookup response. The API echoes
// the citation text it parsed, a per-citation HTTP-style status, and the
// matching opinion clusters.
type lookupResult struct {
	Citation            string          `json:"citation"`
	NormalizedCitations []string        `json:"normalized_citations"`
	StartIndex          int             `json:"start_index"`
	EndIndex            int             `json:"end_index"`
	Status              int             `json:"status"`
	ErrorMessage        string          `json:"error_message"`
	Clusters            []opinionCluster `json:"clusters"`
}

// opinionCluster is the subset of CourtListener's cluster record the
// verifier consumes.
type opinionCluster struct {
	AbsoluteURL string `json:"absolute_url"`
	CaseName    string `json:"case_name"`
	DateFiled   string `json:"date_filed"`
	Court       string `json:"court"`
	CourtID     string `json:"court_id"`
	DocketID    int64  `json:"docket_id"`
}

// APIError represents a non-2xx response from the citation-lookup API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("courtlistener API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Transient reports whether the error is worth retrying (server side).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// RateLimitError represents a 429 from the API. RetryAfter carries the
// server-specified wait when a Retry-After header was present, otherwise
// a zero duration (caller falls back to its own backoff).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("courtlistener rate limit exceeded, retry after %v", e.RetryAfter)
	}
	return "courtlistener rate limit exceeded"
}
