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

// CacheStorage implements the CacheStorage interface for Badger. Entries are
// keyed "<namespace>/<fingerprint>"; the verified and unverified namespaces
// are disjoint so clearing one can never touch the other.
type CacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCacheStorage creates a new CacheStorage instance
func NewCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CacheStorage {
	return &CacheStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns a live entry. Expired entries are reported as a miss; the
// compaction sweep removes the stale record later.
func (s *CacheStorage) Get(ctx context.Context, namespace, key string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.db.Store().Get(models.CacheKey(namespace, key), &entry)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if entry.SchemaVersion != models.CacheSchemaVersion {
		return nil, models.ErrCacheMiss
	}
	if entry.Expired(time.Now()) {
		return nil, models.ErrCacheMiss
	}
	return &entry, nil
}

func (s *CacheStorage) Set(ctx context.Context, entry *models.CacheEntry) error {
	if entry.Namespace == "" || entry.Key == "" {
		return fmt.Errorf("cache entry requires namespace and key")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	entry.SchemaVersion = models.CacheSchemaVersion

	storeKey := models.CacheKey(entry.Namespace, entry.Key)
	if err := s.db.Store().Upsert(storeKey, entry); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (s *CacheStorage) Delete(ctx context.Context, namespace, key string) error {
	err := s.db.Store().Delete(models.CacheKey(namespace, key), &models.CacheEntry{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// ClearNamespace removes every entry in a namespace and returns the count.
func (s *CacheStorage) ClearNamespace(ctx context.Context, namespace string) (int, error) {
	var entries []models.CacheEntry
	err := s.db.Store().Find(&entries, badgerhold.Where("Namespace").Eq(namespace))
	if err != nil {
		return 0, fmt.Errorf("failed to list cache namespace: %w", err)
	}

	cleared := 0
	for i := range entries {
		storeKey := models.CacheKey(entries[i].Namespace, entries[i].Key)
		if err := s.db.Store().Delete(storeKey, &models.CacheEntry{}); err != nil {
			s.logger.Warn().Str("key", storeKey).Err(err).Msg("Failed to delete cache entry")
			continue
		}
		cleared++
	}

	s.logger.Info().Str("namespace", namespace).Int("cleared", cleared).Msg("Cleared cache namespace")
	return cleared, nil
}

func (s *CacheStorage) Stats(ctx context.Context) (*models.CacheStats, error) {
	stats := &models.CacheStats{}
	for _, ns := range []string{
		models.CacheNamespaceVerified,
		models.CacheNamespaceUnverified,
		models.CacheNamespaceExtraction,
	} {
		count, err := s.db.Store().Count(&models.CacheEntry{}, badgerhold.Where("Namespace").Eq(ns))
		if err != nil {
			return nil, fmt.Errorf("failed to count cache namespace %s: %w", ns, err)
		}
		switch ns {
		case models.CacheNamespaceVerified:
			stats.Verified = int(count)
		case models.CacheNamespaceUnverified:
			stats.Unverified = int(count)
		case models.CacheNamespaceExtraction:
			stats.Extraction = int(count)
		}
	}
	return stats, nil
}

// CompactExpired removes expired unverified and extraction entries. Verified
// entries are never compacted, expired or not; they age out through their own
// TTL check on read.
func (s *CacheStorage) CompactExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, ns := range []string{models.CacheNamespaceUnverified, models.CacheNamespaceExtraction} {
		var entries []models.CacheEntry
		if err := s.db.Store().Find(&entries, badgerhold.Where("Namespace").Eq(ns)); err != nil {
			return removed, fmt.Errorf("failed to list namespace %s for compaction: %w", ns, err)
		}
		for i := range entries {
			entry := &entries[i]
			if !entry.Expired(now) && entry.SchemaVersion == models.CacheSchemaVersion {
				continue
			}
			storeKey := models.CacheKey(entry.Namespace, entry.Key)
			if err := s.db.Store().Delete(storeKey, &models.CacheEntry{}); err != nil {
				s.logger.Warn().Str("key", storeKey).Err(err).Msg("Failed to compact cache entry")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Compacted expired cache entries")
	}
	return removed, nil
}
