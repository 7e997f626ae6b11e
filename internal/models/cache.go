package models

import (
	"encoding/json"
	"time"
)

// Cache namespaces. Verified and unverified entries live in disjoint
// namespaces so clearing unverified results can never lose a positive one.
const (
	CacheNamespaceVerified   = "verified"
	CacheNamespaceUnverified = "unverified"
	CacheNamespaceExtraction = "extraction"
)

// CacheSchemaVersion is folded into every fingerprint so entries written
// under an older payload shape are never read back as current ones.
const CacheSchemaVersion = 2

// CacheEntry is one stored verification or extraction payload, keyed by
// "<namespace>/<fingerprint>". Payloads are self-describing through the
// schema version.
type CacheEntry struct {
	Key           string          `json:"key"`
	Namespace     string          `json:"namespace" badgerhold:"index"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	Source        string          `json:"source,omitempty"`
	Verified      bool            `json:"verified_flag"`
	StoredAt      time.Time       `json:"stored_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
// Entries with a zero ExpiresAt never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// CacheKey joins a namespace and fingerprint into the stored key form.
func CacheKey(namespace, fingerprint string) string {
	return namespace + "/" + fingerprint
}

// CacheStats reports per-namespace entry counts for the stats endpoint.
type CacheStats struct {
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
	Extraction int `json:"extraction"`
}
