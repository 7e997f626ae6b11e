package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger.
// Snapshots are keyed by job ID; one snapshot per job.
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveSnapshot(ctx context.Context, snapshot *models.DocumentSnapshot) error {
	if snapshot.JobID == "" {
		return fmt.Errorf("snapshot job ID is required")
	}
	if snapshot.LoadedAt.IsZero() {
		snapshot.LoadedAt = time.Now()
	}
	snapshot.SizeBytes = len(snapshot.Text)

	if err := s.db.Store().Upsert(snapshot.JobID, snapshot); err != nil {
		return fmt.Errorf("failed to save document snapshot: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetSnapshot(ctx context.Context, jobID string) (*models.DocumentSnapshot, error) {
	var snapshot models.DocumentSnapshot
	if err := s.db.Store().Get(jobID, &snapshot); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get document snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *DocumentStorage) DeleteSnapshot(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.DocumentSnapshot{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete document snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshotsBefore removes snapshots loaded before the cutoff. Runs
// alongside the terminal-job sweep so orphaned snapshots do not accumulate.
func (s *DocumentStorage) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var snapshots []models.DocumentSnapshot
	err := s.db.Store().Find(&snapshots, badgerhold.Where("LoadedAt").Lt(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to find expired snapshots: %w", err)
	}

	deleted := 0
	for i := range snapshots {
		if err := s.db.Store().Delete(snapshots[i].JobID, &models.DocumentSnapshot{}); err != nil {
			s.logger.Warn().Str("job_id", snapshots[i].JobID).Err(err).Msg("Failed to delete snapshot")
			continue
		}
		deleted++
	}
	return deleted, nil
}
