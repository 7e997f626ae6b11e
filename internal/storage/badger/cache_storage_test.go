package badger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/casestrainer/internal/models"
)

func testEntry(namespace, key string, ttl time.Duration) *models.CacheEntry {
	expires := time.Time{}
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	return &models.CacheEntry{
		Key:       key,
		Namespace: namespace,
		Payload:   json.RawMessage(`{"found":true}`),
		Verified:  namespace == models.CacheNamespaceVerified,
		ExpiresAt: expires,
	}
}

func TestCacheGetSetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, testEntry(models.CacheNamespaceVerified, "fp1", time.Hour)))

	got, err := cache.Get(ctx, models.CacheNamespaceVerified, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "fp1", got.Key)
	assert.True(t, got.Verified)
	assert.Equal(t, models.CacheSchemaVersion, got.SchemaVersion)

	// Same fingerprint in the other namespace is a distinct entry.
	_, err = cache.Get(ctx, models.CacheNamespaceUnverified, "fp1")
	assert.ErrorIs(t, err, models.ErrCacheMiss)
}

func TestCacheExpiredEntryIsMiss(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	entry := testEntry(models.CacheNamespaceUnverified, "fp-exp", time.Hour)
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, cache.Set(ctx, entry))

	_, err := cache.Get(ctx, models.CacheNamespaceUnverified, "fp-exp")
	assert.ErrorIs(t, err, models.ErrCacheMiss)
}

func TestClearUnverifiedPreservesVerified(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, testEntry(models.CacheNamespaceVerified, "fp-v", time.Hour)))
	require.NoError(t, cache.Set(ctx, testEntry(models.CacheNamespaceUnverified, "fp-u1", time.Hour)))
	require.NoError(t, cache.Set(ctx, testEntry(models.CacheNamespaceUnverified, "fp-u2", time.Hour)))

	cleared, err := cache.ClearNamespace(ctx, models.CacheNamespaceUnverified)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	// Verified entry untouched.
	_, err = cache.Get(ctx, models.CacheNamespaceVerified, "fp-v")
	assert.NoError(t, err)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 0, stats.Unverified)
}

func TestCompactExpiredNeverTouchesVerified(t *testing.T) {
	db := newTestDB(t)
	cache := NewCacheStorage(db, arbor.NewLogger())
	ctx := context.Background()

	expiredVerified := testEntry(models.CacheNamespaceVerified, "fp-v-old", time.Hour)
	expiredVerified.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, cache.Set(ctx, expiredVerified))

	expiredUnverified := testEntry(models.CacheNamespaceUnverified, "fp-u-old", time.Hour)
	expiredUnverified.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, cache.Set(ctx, expiredUnverified))

	liveUnverified := testEntry(models.CacheNamespaceUnverified, "fp-u-live", time.Hour)
	require.NoError(t, cache.Set(ctx, liveUnverified))

	expiredExtraction := testEntry(models.CacheNamespaceExtraction, "h-old", time.Hour)
	expiredExtraction.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, cache.Set(ctx, expiredExtraction))

	removed, err := cache.CompactExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	// The expired verified entry is still stored; only the read path hides it.
	assert.Equal(t, 1, stats.Verified)
	assert.Equal(t, 1, stats.Unverified)
	assert.Equal(t, 0, stats.Extraction)
}
