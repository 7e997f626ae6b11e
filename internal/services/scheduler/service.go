// Package scheduler runs background maintenance on a cron schedule: cache
// compaction, terminal job retention sweeps and Badger value-log GC.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
)

// taskEntry tracks one registered maintenance task.
type taskEntry struct {
	name      string
	schedule  string
	handler   func(ctx context.Context) error
	cronID    cron.EntryID
	lastRun   *time.Time
	lastError string
	running   bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// Service owns the maintenance cron.
type Service struct {
	storage interfaces.StorageManager
	events  interfaces.EventService
	logger  arbor.ILogger
	cfg     common.MaintenanceConfig

	retention time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	tasks   map[string]*taskEntry
	running bool
}

// NewService builds the scheduler and registers the standard maintenance
// tasks from config.
func NewService(cfg *common.Config, storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) (*Service, error) {
	retention, err := time.ParseDuration(cfg.Jobs.Retention)
	if err != nil || retention <= 0 {
		retention = 24 * time.Hour
	}

	s := &Service{
		storage:   storage,
		events:    events,
		logger:    logger,
		cfg:       cfg.Maintenance,
		retention: retention,
		cron:      cron.New(),
		tasks:     make(map[string]*taskEntry),
	}

	if err := s.RegisterTask("cache-compaction", cfg.Maintenance.CompactionSchedule, s.compactCache); err != nil {
		return nil, err
	}
	if err := s.RegisterTask("job-sweep", cfg.Maintenance.JobSweepSchedule, s.sweepJobs); err != nil {
		return nil, err
	}
	if err := s.RegisterTask("badger-gc", cfg.Maintenance.GCSchedule, s.runBadgerGC); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterTask adds a maintenance task under the given cron schedule.
func (s *Service) RegisterTask(name, schedule string, handler func(ctx context.Context) error) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	entry := &taskEntry{name: name, schedule: schedule, handler: handler}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(name)
	})
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	entry.cronID = cronID
	s.tasks[name] = entry

	s.logger.Info().Str("task", name).Str("schedule", schedule).Msg("Maintenance task registered")
	return nil
}

// Start begins the cron loop. A disabled scheduler is a no-op so callers can
// wire it unconditionally.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info().Msg("Maintenance scheduler disabled by config")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for an in-flight task to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Maintenance scheduler stopped")
	return nil
}

// TriggerTask runs a task immediately, outside its schedule.
func (s *Service) TriggerTask(name string) error {
	s.mu.Lock()
	entry, exists := s.tasks[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", name)
	}
	if entry.running {
		s.mu.Unlock()
		return fmt.Errorf("task %s is already running", name)
	}
	s.mu.Unlock()

	go s.executeTask(name)
	return nil
}

// TaskStatuses reports every registered task.
func (s *Service) TaskStatuses() map[string]interfaces.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextByID := make(map[cron.EntryID]time.Time)
	for _, e := range s.cron.Entries() {
		nextByID[e.ID] = e.Next
	}

	out := make(map[string]interfaces.TaskStatus, len(s.tasks))
	for name, entry := range s.tasks {
		status := interfaces.TaskStatus{
			Name:      entry.name,
			Schedule:  entry.schedule,
			LastRun:   entry.lastRun,
			Running:   entry.running,
			LastError: entry.lastError,
		}
		if next, ok := nextByID[entry.cronID]; ok && !next.IsZero() {
			status.NextRun = &next
		}
		out[name] = status
	}
	return out
}

// executeTask wraps a task with panic recovery and status bookkeeping. Tasks
// never run concurrently with themselves.
func (s *Service) executeTask(name string) {
	s.mu.Lock()
	entry, exists := s.tasks[name]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	handler := entry.handler
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", name).Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in maintenance task")
			s.finishTask(name, fmt.Errorf("panic: %v", r), start)
		}
	}()

	err := handler(context.Background())
	s.finishTask(name, err, start)
}

func (s *Service) finishTask(name string, err error, start time.Time) {
	now := time.Now()
	s.mu.Lock()
	if entry, exists := s.tasks[name]; exists {
		entry.running = false
		entry.lastRun = &now
		if err != nil {
			entry.lastError = err.Error()
		} else {
			entry.lastError = ""
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Str("task", name).Err(err).Dur("duration", time.Since(start)).
			Msg("Maintenance task failed")
	} else {
		s.logger.Info().Str("task", name).Dur("duration", time.Since(start)).
			Msg("Maintenance task completed")
	}
}

// compactCache drops expired unverified and extraction cache entries.
// Verified entries are exempt from compaction.
func (s *Service) compactCache(ctx context.Context) error {
	removed, err := s.storage.CacheStorage().CompactExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("cache compaction failed: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Expired cache entries compacted")
	}
	s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCacheCompaction,
		Payload: map[string]int{"removed": removed},
	})
	return nil
}

// sweepJobs removes terminal jobs past retention, along with their document
// snapshots.
func (s *Service) sweepJobs(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)

	jobs, err := s.storage.JobStorage().DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("job sweep failed: %w", err)
	}
	snapshots, err := s.storage.DocumentStorage().DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("snapshot sweep failed: %w", err)
	}
	if jobs > 0 || snapshots > 0 {
		s.logger.Info().Int("jobs", jobs).Int("snapshots", snapshots).
			Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Terminal jobs swept")
	}
	return nil
}

// runBadgerGC reclaims value-log space. RunValueLogGC rewrites at most one
// file per call, so loop until it reports nothing left to collect.
func (s *Service) runBadgerGC(_ context.Context) error {
	db, ok := s.storage.DB().(*badger.DB)
	if !ok || db == nil {
		return nil
	}
	for {
		if err := db.RunValueLogGC(0.5); err != nil {
			if err == badger.ErrNoRewrite {
				return nil
			}
			return fmt.Errorf("badger gc failed: %w", err)
		}
	}
}
