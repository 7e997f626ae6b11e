// Package verify resolves citation clusters against the external citation
// database, fronted by the verification cache, a process-wide token bucket
// and a retry policy for transient failures.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/courtlistener"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

const (
	defaultConcurrency    = 8
	defaultMaxAttempts    = 4
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second
	defaultVerifiedTTL    = 720 * time.Hour
	defaultUnverifiedTTL  = 24 * time.Hour
)

const cacheSource = "citation-lookup"

var _ interfaces.Verifier = (*Service)(nil)

// Service implements the verifier. One instance serves the whole process:
// the token bucket and the singleflight group must be shared across jobs or
// the per-hour budget means nothing.
type Service struct {
	db     interfaces.CitationDatabase
	cache  interfaces.CacheStorage
	logger arbor.ILogger

	limiter *rate.Limiter
	flight  singleflight.Group

	concurrency    int
	verifiedTTL    time.Duration
	unverifiedTTL  time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// sleep is swapped out in tests so the retry schedule can be observed
	// without waiting on it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a verifier from configuration. Malformed duration
// strings fall back to the defaults.
func NewService(cfg *common.Config, db interfaces.CitationDatabase, cache interfaces.CacheStorage, logger arbor.ILogger) *Service {
	perHour := cfg.Database.RateLimitPerHour
	if perHour <= 0 {
		perHour = 100
	}

	s := &Service{
		db:             db,
		cache:          cache,
		logger:         logger,
		limiter:        rate.NewLimiter(rate.Limit(float64(perHour))/3600, perHour),
		concurrency:    cfg.Verify.Concurrency,
		verifiedTTL:    parseDuration(cfg.Verify.VerifiedTTL, defaultVerifiedTTL),
		unverifiedTTL:  parseDuration(cfg.Verify.UnverifiedTTL, defaultUnverifiedTTL),
		maxAttempts:    cfg.Verify.MaxAttempts,
		initialBackoff: parseDuration(cfg.Verify.InitialBackoff, defaultInitialBackoff),
		maxBackoff:     parseDuration(cfg.Verify.MaxBackoff, defaultMaxBackoff),
		sleep:          sleepContext,
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	return s
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// VerifyClusters verifies every cluster, fanning out up to the configured
// concurrency. Cluster-level verification failures land on the cluster
// record; only cancellation aborts the run.
func (s *Service) VerifyClusters(ctx context.Context, clusters []*models.Cluster, progress func(done, total int)) error {
	total := len(clusters)
	if total == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var done atomic.Int64
	for _, c := range clusters {
		c := c
		g.Go(func() error {
			if err := s.verifyCluster(gctx, c); err != nil {
				return err
			}
			if progress != nil {
				progress(int(done.Add(1)), total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Debug().
		Int("clusters", total).
		Int("remaining_quota", s.db.RemainingQuota()).
		Msg("Cluster verification complete")
	return nil
}

// verifyCluster tries the primary citation first, then the remaining
// members in order. A later member verifying marks the cluster
// verified_by_parallel. All-negative is unverified; transport exhaustion
// with no positive is failed with the reason attached.
func (s *Service) verifyCluster(ctx context.Context, c *models.Cluster) error {
	var lastErr error

	for i := range c.Occurrences {
		if err := ctx.Err(); err != nil {
			return models.NewKindedError(models.ErrorKindCancelled, err)
		}
		occ := &c.Occurrences[i]

		match, err := s.lookup(ctx, occ.NormalizedText)
		if err != nil {
			if models.KindOf(err) == models.ErrorKindCancelled {
				return err
			}
			lastErr = err
			continue
		}

		if match.Found {
			status := models.VerificationVerified
			if i > 0 {
				status = models.VerificationByParallel
			}
			s.applyMatch(c, match, status)
			return nil
		}
	}

	if lastErr != nil {
		c.VerificationStatus = models.VerificationFailed
		c.VerificationError = lastErr.Error()
	} else {
		c.VerificationStatus = models.VerificationUnverified
	}
	markOccurrences(c)
	return nil
}

func (s *Service) applyMatch(c *models.Cluster, match *models.CitationMatch, status models.VerificationStatus) {
	c.VerificationStatus = status
	c.CanonicalName = match.CanonicalName
	c.CanonicalDate = match.CanonicalDate
	c.CanonicalURL = match.URL
	c.CanonicalCourt = match.Court
	c.CanonicalDocket = match.Docket
	markOccurrences(c)
}

func markOccurrences(c *models.Cluster) {
	for i := range c.Occurrences {
		c.Occurrences[i].Verification = c.VerificationStatus
	}
}

// lookup resolves one normalized citation through the cache. Concurrent
// callers with the same fingerprint share one backend call; losers of the
// build race receive the winner's result.
func (s *Service) lookup(ctx context.Context, normalized string) (*models.CitationMatch, error) {
	fp := Fingerprint(normalized)

	if match := s.cachedMatch(ctx, fp); match != nil {
		return match, nil
	}

	v, err, _ := s.flight.Do(fp, func() (interface{}, error) {
		if match := s.cachedMatch(ctx, fp); match != nil {
			return match, nil
		}
		return s.lookupUncached(ctx, fp, normalized)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CitationMatch), nil
}

func (s *Service) cachedMatch(ctx context.Context, fp string) *models.CitationMatch {
	for _, ns := range []string{models.CacheNamespaceVerified, models.CacheNamespaceUnverified} {
		entry, err := s.cache.Get(ctx, ns, fp)
		if err != nil {
			continue
		}
		var match models.CitationMatch
		if err := json.Unmarshal(entry.Payload, &match); err != nil {
			s.logger.Warn().Str("fingerprint", fp).Err(err).Msg("Discarding undecodable cache entry")
			continue
		}
		return &match
	}
	return nil
}

// lookupUncached runs the rate-limited, retried backend call and stores the
// outcome. Non-429 4xx answers are authoritative negatives; network errors,
// 5xx and 429 retry until the attempt budget runs out.
func (s *Service) lookupUncached(ctx context.Context, fp, normalized string) (*models.CitationMatch, error) {
	backoff := s.initialBackoff

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, models.NewKindedError(models.ErrorKindCancelled, err)
		}

		match, err := s.db.Lookup(ctx, normalized)
		if err == nil {
			s.store(ctx, fp, match)
			return match, nil
		}

		var apiErr *courtlistener.APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			match := &models.CitationMatch{Found: false}
			s.store(ctx, fp, match)
			return match, nil
		}

		if ctx.Err() != nil {
			return nil, models.NewKindedError(models.ErrorKindCancelled, ctx.Err())
		}
		if attempt >= s.maxAttempts {
			return nil, models.NewKindedError(models.ErrorKindTransient, err)
		}

		wait := jitter(backoff)
		var rle *courtlistener.RateLimitError
		if errors.As(err, &rle) {
			s.drainBucket()
			if rle.RetryAfter > wait {
				wait = rle.RetryAfter
			}
		}

		s.logger.Warn().
			Str("citation", normalized).
			Int("attempt", attempt).
			Dur("wait", wait).
			Err(err).
			Msg("Citation lookup failed, retrying")

		if err := s.sleep(ctx, wait); err != nil {
			return nil, models.NewKindedError(models.ErrorKindCancelled, err)
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Service) store(ctx context.Context, fp string, match *models.CitationMatch) {
	payload, err := json.Marshal(match)
	if err != nil {
		s.logger.Warn().Str("fingerprint", fp).Err(err).Msg("Failed to encode cache payload")
		return
	}

	ns, ttl := models.CacheNamespaceUnverified, s.unverifiedTTL
	if match.Found {
		ns, ttl = models.CacheNamespaceVerified, s.verifiedTTL
	}
	now := time.Now()
	entry := &models.CacheEntry{
		Key:       fp,
		Namespace: ns,
		Payload:   payload,
		Source:    cacheSource,
		Verified:  match.Found,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.logger.Warn().Str("fingerprint", fp).Err(err).Msg("Failed to store cache entry")
	}
}

// drainBucket empties the local token bucket after a 429 so in-flight
// workers stop hitting a budget the server says is spent.
func (s *Service) drainBucket() {
	if n := int(s.limiter.Tokens()); n > 0 {
		s.limiter.AllowN(time.Now(), n)
	}
}

// jitter spreads a backoff delay by ±25% so retries from parallel workers
// do not land in lockstep.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
