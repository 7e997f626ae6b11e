package models

import (
	"errors"
	"fmt"
)

// ErrorKind buckets failures by how the runtime should treat them, not by
// Go type. Kinds travel on job records and API error payloads.
type ErrorKind string

const (
	// ErrorKindInput covers malformed submissions, unsupported file
	// types, empty text, and failed URL fetches. Reported synchronously
	// on submit.
	ErrorKindInput ErrorKind = "input"
	// ErrorKindTransient covers network failures, 5xx and 429 responses.
	// Retried internally; surfaced only when retries are exhausted.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindNegative is an authoritative "no such citation" from the
	// database. Recorded as unverified, never as a job failure.
	ErrorKindNegative ErrorKind = "authoritative_negative"
	// ErrorKindCancelled marks user or system cancellation. Terminal,
	// no partial results.
	ErrorKindCancelled ErrorKind = "cancelled"
	// ErrorKindStalled marks a stage that made no progress inside the
	// watchdog interval. Terminal failure.
	ErrorKindStalled ErrorKind = "stalled"
	// ErrorKindInternal marks invariant violations and unexpected state.
	ErrorKindInternal ErrorKind = "internal"
)

// KindedError attaches an ErrorKind to an underlying error so handlers and
// the job runtime can route on the kind without inspecting messages.
type KindedError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindedError) Unwrap() error {
	return e.Err
}

// NewKindedError wraps err with a kind. A nil err yields a bare kind error
// so callers can always attach context later with %w.
func NewKindedError(kind ErrorKind, err error) *KindedError {
	return &KindedError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain. Errors
// without a kind are treated as internal.
func KindOf(err error) ErrorKind {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrorKindInternal
}

// Sentinel errors shared across storage and runtime packages.
var (
	// ErrJobNotFound is returned when a job ID has no record.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobConflict is returned when an optimistic-concurrency write
	// loses the race; the caller re-reads and retries.
	ErrJobConflict = errors.New("job record modified concurrently")
	// ErrJobTerminal is returned when a transition is requested on a job
	// already in a terminal state.
	ErrJobTerminal = errors.New("job already in terminal state")
	// ErrCacheMiss is returned by cache lookups with no live entry.
	ErrCacheMiss = errors.New("cache miss")
)

// Document loader failures. All are input errors from the job's point of
// view; they are distinguished so the API can say what actually went wrong.
var (
	// ErrUnsupportedType is returned for file types the loader cannot decode.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrFetchFailed is returned when a URL fetch fails or times out.
	ErrFetchFailed = errors.New("document fetch failed")
	// ErrDecodeFailed is returned when a body cannot be decoded to text.
	ErrDecodeFailed = errors.New("document decode failed")
)
