package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/casestrainer/internal/models"
)

// JobListOptions filters and pages job listings
type JobListOptions struct {
	Status   string // Filter by job status, empty = all
	Limit    int
	Offset   int
	OrderBy  string // created_at, updated_at
	OrderDir string // asc, desc
}

// JobStorage - interface for analysis job persistence
type JobStorage interface {
	// SaveJob persists a new job record
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob returns a job by ID, models.ErrJobNotFound if absent
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// UpdateJob persists job changes. The stored record's UpdatedAt must match
	// the job's UpdatedAt or models.ErrJobConflict is returned; on success the
	// job's UpdatedAt is advanced.
	UpdateJob(ctx context.Context, job *models.Job) error

	// ListJobs returns jobs matching the options, newest first by default
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// CountJobs returns the number of jobs matching the options
	CountJobs(ctx context.Context, opts *JobListOptions) (int, error)

	// DeleteJob removes a job record
	DeleteJob(ctx context.Context, id string) error

	// DeleteTerminalBefore removes completed/failed/cancelled jobs whose
	// CompletedAt is before the cutoff. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CacheStorage - interface for the verification and extraction cache
type CacheStorage interface {
	// Get returns a live entry, models.ErrCacheMiss if absent or expired
	Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error)

	// Set inserts or replaces an entry
	Set(ctx context.Context, entry *models.CacheEntry) error

	// Delete removes a single entry
	Delete(ctx context.Context, namespace, key string) error

	// ClearNamespace removes every entry in a namespace. Returns count removed.
	ClearNamespace(ctx context.Context, namespace string) (int, error)

	// Stats returns per-namespace entry counts
	Stats(ctx context.Context) (*models.CacheStats, error)

	// CompactExpired removes expired unverified and extraction entries.
	// Verified entries are never compacted. Returns count removed.
	CompactExpired(ctx context.Context, now time.Time) (int, error)
}

// DocumentStorage - interface for analyzed document snapshots
type DocumentStorage interface {
	SaveSnapshot(ctx context.Context, snapshot *models.DocumentSnapshot) error
	GetSnapshot(ctx context.Context, jobID string) (*models.DocumentSnapshot, error)
	DeleteSnapshot(ctx context.Context, jobID string) error

	// DeleteSnapshotsBefore removes snapshots loaded before the cutoff.
	// Returns the number removed.
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	CacheStorage() CacheStorage
	DocumentStorage() DocumentStorage
	KVStorage() KeyValueStorage

	// DB returns the underlying *badger.DB (type assert required)
	DB() interface{}

	Close() error
}
