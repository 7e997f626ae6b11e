package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// SaveJob persists a new job record. The UpdatedAt token is stamped here so
// the first UpdateJob call has something to compare against.
func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJob persists job changes under optimistic concurrency. The caller's
// UpdatedAt must match the stored token; a mismatch means another writer got
// there first and the caller should re-read and retry. On success the job's
// UpdatedAt is advanced to the new token.
func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	var stored models.Job
	if err := s.db.Store().Get(job.ID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrJobNotFound
		}
		return fmt.Errorf("failed to read job for update: %w", err)
	}

	if !stored.UpdatedAt.Equal(job.UpdatedAt) {
		return models.ErrJobConflict
	}

	job.UpdatedAt = time.Now()
	// Badger clock granularity can collide with a fast successive write;
	// force the token forward so two updates never share it.
	if !job.UpdatedAt.After(stored.UpdatedAt) {
		job.UpdatedAt = stored.UpdatedAt.Add(time.Microsecond)
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := s.buildQuery(opts)

	if opts != nil {
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		orderBy := "CreatedAt"
		switch strings.ToLower(opts.OrderBy) {
		case "updated_at":
			orderBy = "UpdatedAt"
		case "created_at", "":
		}
		if strings.EqualFold(opts.OrderDir, "asc") {
			query = query.SortBy(orderBy)
		} else {
			query = query.SortBy(orderBy).Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context, opts *interfaces.JobListOptions) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, s.buildQuery(opts))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) buildQuery(opts *interfaces.JobListOptions) *badgerhold.Query {
	query := badgerhold.Where("ID").Ne("")
	if opts != nil && opts.Status != "" {
		query = query.And("Status").Eq(models.JobStatus(opts.Status))
	}
	return query
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes terminal jobs whose CompletedAt is before the
// cutoff. Jobs still queued or running are never touched regardless of age.
func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").In(
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled))
	if err != nil {
		return 0, fmt.Errorf("failed to find terminal jobs: %w", err)
	}

	deleted := 0
	for i := range jobs {
		job := &jobs[i]
		if job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(job.ID, &models.Job{}); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to delete expired job")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("count", deleted).Msg("Swept expired terminal jobs")
	}
	return deleted, nil
}
