package models

import (
	"time"
)

// JobStatus represents the state of an analysis job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Pipeline step names, reported through the job record and progress events.
const (
	StepQueued     = "queued"
	StepLoading    = "loading"
	StepExtraction = "extraction"
	StepIsolation  = "isolation"
	StepClustering = "clustering"
	StepVerifying  = "verification"
	StepFinalizing = "finalizing"
)

// InputType identifies how the document text was obtained.
type InputType string

const (
	InputTypeText InputType = "text"
	InputTypeURL  InputType = "url"
	InputTypeFile InputType = "file"
)

// InputDescriptor records the provenance of a submission. Raw text is not
// stored here; the loaded document snapshot lives in its own record.
type InputDescriptor struct {
	Type        InputType `json:"type"`
	URL         string    `json:"url,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int       `json:"size_bytes"`
	TextHash    string    `json:"text_hash,omitempty"`
}

// Job is the persisted record for one analysis run.
//
// Lifecycle: queued -> running -> {completed, failed, cancelled}; cancel is
// also accepted while queued. Transitions only move forward. Terminal
// records are retained for at least 24 hours before the maintenance sweep
// removes them.
//
// Updates go through optimistic concurrency: writers must present the
// UpdatedAt they read, and the store rejects the write if the stored token
// has moved.
type Job struct {
	ID                 string          `json:"job_id"`
	InputDescriptor    InputDescriptor `json:"input_descriptor"`
	Status             JobStatus       `json:"status" badgerhold:"index"`
	Progress           float64         `json:"progress"`
	CurrentStep        string          `json:"current_step"`
	ETASeconds         int             `json:"eta_seconds"`
	TotalCitations     int             `json:"total_citations"`
	ProcessedCitations int             `json:"processed_citations"`
	Result             *JobResult      `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	ErrorKind          ErrorKind       `json:"error_kind,omitempty"`
	Attempts           int             `json:"attempts"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// JobResult aggregates the pipeline output for a completed job. Clusters
// are in stable order (earliest member offset); Citations is the flat view
// for clients that ignore clustering.
type JobResult struct {
	Clusters  []Cluster            `json:"clusters"`
	Citations []CitationOccurrence `json:"citations"`
	Metadata  ResultMetadata       `json:"metadata"`
	Timing    map[string]float64   `json:"timing,omitempty"`
}

// ResultMetadata carries the counts clients use to sanity-check a result.
// Invariant: Verified + VerifiedByParallel + Unverified + Failed equals
// TotalClusters.
type ResultMetadata struct {
	Total              int      `json:"total"`
	TotalClusters      int      `json:"total_clusters"`
	Verified           int      `json:"verified"`
	VerifiedByParallel int      `json:"verified_by_parallel"`
	Unverified         int      `json:"unverified"`
	Failed             int      `json:"failed"`
	StatutesExcluded   int      `json:"statutes_excluded"`
	Warnings           []string `json:"warnings,omitempty"`
}

// ConsistentCounts verifies the cluster count invariant.
func (m *ResultMetadata) ConsistentCounts() bool {
	return m.Verified+m.VerifiedByParallel+m.Unverified+m.Failed == m.TotalClusters
}

// DocumentSnapshot stores the loaded text for a job so workers and the
// report renderer read the same bytes the extractor saw. Markdown is kept
// only for sources that had structure worth preserving (HTML pages).
type DocumentSnapshot struct {
	JobID     string    `json:"job_id"`
	Text      string    `json:"text"`
	Markdown  string    `json:"markdown,omitempty"`
	SourceRef string    `json:"source_ref,omitempty"`
	SizeBytes int       `json:"size_bytes"`
	LoadedAt  time.Time `json:"loaded_at"`
}
