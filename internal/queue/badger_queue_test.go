package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/casestrainer/internal/models"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerQueue {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "casestrainer-queue-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	opts := badger.DefaultOptions(tmpDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q, err := NewBadgerQueue(db, "test_jobs", visibility, maxReceive)
	require.NoError(t, err)
	return q
}

func TestEnqueueReceiveDelete(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	msg := &models.QueueMessage{JobID: "job_1", Type: models.MessageTypeAnalyze}
	require.NoError(t, q.Enqueue(ctx, msg))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", received.Body.JobID)
	assert.Equal(t, models.MessageTypeAnalyze, received.Body.Type)
	assert.Equal(t, 1, received.ReceiveCount)

	// Claimed message is hidden from other receivers.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	require.NoError(t, deleteFn())

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestReceiveEmptyQueue(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)

	_, _, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestVisibilityTimeoutRedelivery(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 5)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.QueueMessage{JobID: "job_redeliver", Type: models.MessageTypeAnalyze}))

	// First claim, never acked.
	first, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReceiveCount)

	// Before the deadline the message stays hidden.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(80 * time.Millisecond)

	second, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_redeliver", second.Body.JobID)
	assert.Equal(t, 2, second.ReceiveCount)
	require.NoError(t, deleteFn())
}

func TestMaxReceivePoisonMessage(t *testing.T) {
	q := newTestQueue(t, 10*time.Millisecond, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.QueueMessage{JobID: "job_poison", Type: models.MessageTypeAnalyze}))

	// Burn through the receive budget without acking.
	for i := 0; i < 2; i++ {
		_, _, err := q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(25 * time.Millisecond)
	}

	// Next receive surfaces the dead message.
	dead, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrMessageDead)
	require.NotNil(t, dead)
	assert.Equal(t, "job_poison", dead.Body.JobID)

	// And it is gone from the queue.
	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestEnqueueWithDelay(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.EnqueueWithDelay(ctx, &models.QueueMessage{JobID: "job_delayed", Type: models.MessageTypeAnalyze}, 60*time.Millisecond))

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	time.Sleep(90 * time.Millisecond)

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_delayed", received.Body.JobID)
	require.NoError(t, deleteFn())
}

func TestExtendVisibility(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.QueueMessage{JobID: "job_extend", Type: models.MessageTypeAnalyze}))

	received, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)

	// Heartbeat pushes the deadline well past the original timeout.
	require.NoError(t, q.Extend(ctx, received.ID, time.Minute))

	time.Sleep(80 * time.Millisecond)
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	require.NoError(t, deleteFn())
}

func TestQueueStats(t *testing.T) {
	q := newTestQueue(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &models.QueueMessage{JobID: "job_a", Type: models.MessageTypeAnalyze}))
	require.NoError(t, q.Enqueue(ctx, &models.QueueMessage{JobID: "job_b", Type: models.MessageTypeAnalyze}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["visible"])
	assert.Equal(t, 1, stats["in_flight"])
}
