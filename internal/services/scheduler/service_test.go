package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
)

type fakeCache struct {
	interfaces.CacheStorage
	compacted int
	removed   int
}

func (f *fakeCache) CompactExpired(_ context.Context, _ time.Time) (int, error) {
	f.compacted++
	return f.removed, nil
}

type fakeJobs struct {
	interfaces.JobStorage
	cutoff  time.Time
	deleted int
}

func (f *fakeJobs) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeDocs struct {
	interfaces.DocumentStorage
	deleted int
}

func (f *fakeDocs) DeleteSnapshotsBefore(_ context.Context, _ time.Time) (int, error) {
	return f.deleted, nil
}

type fakeStorage struct {
	jobs  *fakeJobs
	cache *fakeCache
	docs  *fakeDocs
}

func (f *fakeStorage) JobStorage() interfaces.JobStorage           { return f.jobs }
func (f *fakeStorage) CacheStorage() interfaces.CacheStorage       { return f.cache }
func (f *fakeStorage) DocumentStorage() interfaces.DocumentStorage { return f.docs }
func (f *fakeStorage) KVStorage() interfaces.KeyValueStorage       { return nil }
func (f *fakeStorage) DB() interface{}                             { return nil }
func (f *fakeStorage) Close() error                                { return nil }

type fakeEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (f *fakeEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (f *fakeEvents) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (f *fakeEvents) Publish(_ context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) count(t interfaces.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T) (*Service, *fakeStorage, *fakeEvents) {
	t.Helper()
	storage := &fakeStorage{jobs: &fakeJobs{}, cache: &fakeCache{}, docs: &fakeDocs{}}
	events := &fakeEvents{}
	svc, err := NewService(common.NewDefaultConfig(), storage, events, common.GetLogger())
	require.NoError(t, err)
	return svc, storage, events
}

func TestNewService_RegistersStandardTasks(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	statuses := svc.TaskStatuses()
	assert.Contains(t, statuses, "cache-compaction")
	assert.Contains(t, statuses, "job-sweep")
	assert.Contains(t, statuses, "badger-gc")
}

func TestRegisterTask_RejectsBadSchedule(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	err := svc.RegisterTask("bogus", "not a schedule", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRegisterTask_RejectsDuplicate(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	err := svc.RegisterTask("cache-compaction", "@hourly", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestCompactCache_PublishesEvent(t *testing.T) {
	svc, storage, events := newTestScheduler(t)
	storage.cache.removed = 7

	require.NoError(t, svc.compactCache(context.Background()))

	assert.Equal(t, 1, storage.cache.compacted)
	assert.Equal(t, 1, events.count(interfaces.EventCacheCompaction))
}

func TestSweepJobs_UsesRetentionCutoff(t *testing.T) {
	svc, storage, _ := newTestScheduler(t)
	storage.jobs.deleted = 3
	storage.docs.deleted = 3

	require.NoError(t, svc.sweepJobs(context.Background()))

	// Default retention is 24h.
	expected := time.Now().Add(-24 * time.Hour)
	assert.WithinDuration(t, expected, storage.jobs.cutoff, 5*time.Second)
}

func TestBadgerGC_NoDatabaseIsNoop(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	assert.NoError(t, svc.runBadgerGC(context.Background()))
}

func TestTriggerTask_RunsImmediately(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	done := make(chan struct{})
	require.NoError(t, svc.RegisterTask("probe", "@daily", func(context.Context) error {
		close(done)
		return nil
	}))

	require.NoError(t, svc.TriggerTask("probe"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	require.Eventually(t, func() bool {
		status := svc.TaskStatuses()["probe"]
		return status.LastRun != nil && !status.Running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerTask_UnknownTask(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	assert.Error(t, svc.TriggerTask("missing"))
}

func TestTaskFailureRecorded(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	require.NoError(t, svc.RegisterTask("broken", "@daily", func(context.Context) error {
		return assert.AnError
	}))
	require.NoError(t, svc.TriggerTask("broken"))

	require.Eventually(t, func() bool {
		return svc.TaskStatuses()["broken"].LastError != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanicRecovered(t *testing.T) {
	svc, _, _ := newTestScheduler(t)

	require.NoError(t, svc.RegisterTask("panics", "@daily", func(context.Context) error {
		panic("boom")
	}))
	require.NoError(t, svc.TriggerTask("panics"))

	require.Eventually(t, func() bool {
		status := svc.TaskStatuses()["panics"]
		return status.LastError != "" && !status.Running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	svc, _, _ := newTestScheduler(t)
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
}

func TestStartDisabled(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Maintenance.Enabled = false
	storage := &fakeStorage{jobs: &fakeJobs{}, cache: &fakeCache{}, docs: &fakeDocs{}}
	svc, err := NewService(cfg, storage, &fakeEvents{}, common.GetLogger())
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop())
}
