package models

// CitationKind classifies what a citation occurrence refers to.
type CitationKind string

const (
	CitationKindCase       CitationKind = "case"
	CitationKindStatute    CitationKind = "statute"
	CitationKindRegulation CitationKind = "regulation"
	CitationKindUnknown    CitationKind = "unknown"
)

// VerificationStatus is the outcome of verifying a cluster (or a single
// occurrence within it) against the citation database.
type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationByParallel VerificationStatus = "verified_by_parallel"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationFailed     VerificationStatus = "failed"
)

// CitationOccurrence is one textual appearance of a citation in the source
// document. Offsets index into the exact text given to the extractor;
// StartOffset < EndOffset always holds for emitted occurrences.
//
// RawText preserves the original bytes. NormalizedText carries canonical
// spacing, ASCII punctuation, and the canonical reporter spelling.
type CitationOccurrence struct {
	RawText        string       `json:"raw_text"`
	NormalizedText string       `json:"normalized_text"`
	Reporter       string       `json:"reporter,omitempty"`
	Volume         int          `json:"volume,omitempty"`
	Page           int          `json:"page,omitempty"`
	PinCite        *int         `json:"pin_cite,omitempty"`
	StartOffset    int          `json:"start_offset"`
	EndOffset      int          `json:"end_offset"`
	Kind           CitationKind `json:"kind"`

	// Statute/regulation fields. Title reuses Volume; Section holds the
	// full section designator including subsection suffixes.
	Section string `json:"section,omitempty"`

	// Parenthetical marks a citation sitting wholly inside (...) after a
	// main citation. Parallel candidate, never a case-name starting point.
	Parenthetical bool `json:"parenthetical,omitempty"`

	// Verification carries the per-occurrence outcome in the flat
	// citations view. Empty until the verifier has run.
	Verification VerificationStatus `json:"verification,omitempty"`
}

// Span returns the half-open offset range of the occurrence.
func (o *CitationOccurrence) Span() (int, int) {
	return o.StartOffset, o.EndOffset
}

// Verifiable reports whether the occurrence participates in clustering and
// verification. Statutes and regulations are carried through extraction but
// never clustered or verified.
func (o *CitationOccurrence) Verifiable() bool {
	return o.Kind == CitationKindCase
}

// AnchorKind classifies non-citation spans the extractor reports so the
// isolator can clamp context windows correctly.
type AnchorKind string

const (
	// AnchorSignal covers introductory signal phrases (see, citing,
	// quoting, compare, accord, cf., e.g.).
	AnchorSignal AnchorKind = "signal"
	// AnchorShortForm covers id. and supra references to earlier citations.
	AnchorShortForm AnchorKind = "short_form"
)

// ContextAnchor is a tagged span in the source text that bounds context
// isolation without itself being a citation occurrence.
type ContextAnchor struct {
	Start int        `json:"start"`
	End   int        `json:"end"`
	Kind  AnchorKind `json:"kind"`
}

// Extraction is the full output of the citation extractor for one text:
// the ordered occurrences plus the anchor spans downstream stages need.
// Pathological input yields empty slices and warnings, never an error.
type Extraction struct {
	Occurrences []CitationOccurrence `json:"occurrences"`
	Anchors     []ContextAnchor      `json:"anchors,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// IsolatedContext is the bounded backward window used to extract the case
// name for a single occurrence, plus a short forward peek used only for
// parenthetical date detection. Built after extraction, discarded once
// case-name extraction has run.
type IsolatedContext struct {
	OccurrenceIndex int    `json:"occurrence_index"`
	Start           int    `json:"start"`
	End             int    `json:"end"`
	Text            string `json:"text"`
	Forward         string `json:"forward,omitempty"`
}

// ExtractedName is the case-name extraction result for one occurrence.
// A nil CaseName is a valid result (nothing usable in the context), not
// an error; Confidence is still populated for diagnostics.
type ExtractedName struct {
	CaseName   *string `json:"case_name"`
	Date       *int    `json:"date,omitempty"`
	Confidence float64 `json:"confidence"`
	PatternID  string  `json:"pattern_id,omitempty"`
}

// Cluster is a set of citation occurrences asserted to refer to the same
// case. Occurrences are ordered by first appearance; the primary citation
// is the earliest member. ClusterID is deterministic within a job so that
// repeated runs over the same text produce identical output.
type Cluster struct {
	ClusterID          string               `json:"cluster_id"`
	Occurrences        []CitationOccurrence `json:"occurrences"`
	ExtractedName      *string              `json:"extracted_name"`
	ExtractedDate      *int                 `json:"extracted_date,omitempty"`
	CanonicalName      string               `json:"canonical_name,omitempty"`
	CanonicalDate      string               `json:"canonical_date,omitempty"`
	CanonicalURL       string               `json:"canonical_url,omitempty"`
	CanonicalCourt     string               `json:"canonical_court,omitempty"`
	CanonicalDocket    string               `json:"canonical_docket,omitempty"`
	VerificationStatus VerificationStatus   `json:"verification_status"`
	VerificationError  string               `json:"verification_error,omitempty"`
}

// PrimaryCitation returns the earliest occurrence by offset, which is the
// one the verifier tries first.
func (c *Cluster) PrimaryCitation() *CitationOccurrence {
	if len(c.Occurrences) == 0 {
		return nil
	}
	return &c.Occurrences[0]
}

// CitationMatch is the citation database's answer for one lookup. Found=false
// with a nil transport error is an authoritative negative.
type CitationMatch struct {
	Found         bool   `json:"found"`
	CanonicalName string `json:"canonical_name,omitempty"`
	CanonicalDate string `json:"canonical_date,omitempty"`
	Court         string `json:"court,omitempty"`
	Docket        string `json:"docket,omitempty"`
	URL           string `json:"url,omitempty"`
}
