package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// envelope is the internal structure stored in Badger for each message.
// VisibleAt drives redelivery: a claimed message gets its VisibleAt pushed
// out by the visibility timeout, and reappears if the claim holder dies
// before deleting it.
type envelope struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerQueue implements a persistent message queue on raw Badger keys.
var _ interfaces.QueueManager = (*BadgerQueue)(nil)

// Message data lives at queue:{name}:msg:{id}; a visibility index at
// queue:{name}:index:{visibleAt}:{id} keeps ready messages scannable in
// delivery order.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBadgerQueue creates a new Badger-backed queue manager
func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 10 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3 // initial delivery + two retries
	}

	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message, immediately visible.
func (m *BadgerQueue) Enqueue(ctx context.Context, msg *models.QueueMessage) error {
	return m.enqueue(ctx, msg, 0)
}

// EnqueueWithDelay adds a message that becomes visible after the delay.
func (m *BadgerQueue) EnqueueWithDelay(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error {
	return m.enqueue(ctx, msg, delay)
}

func (m *BadgerQueue) enqueue(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error {
	if msg == nil {
		return errors.New("message is required")
	}

	env := envelope{
		ID:           common.NewMessageID(),
		Body:         *msg,
		EnqueuedAt:   time.Now(),
		VisibleAt:    time.Now().Add(delay),
		ReceiveCount: 0,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(env.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
	})
}

// Receive claims the next visible message and hides it for the visibility
// timeout. A message past its receive budget is removed and returned with
// models.ErrMessageDead so the caller can fail the owning job.
func (m *BadgerQueue) Receive(ctx context.Context) (*interfaces.ReceivedMessage, func() error, error) {
	var claimed envelope
	var dead *envelope

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp; the first future entry means
			// nothing else is ready either.
			if ts.After(now) {
				break
			}

			msgItem, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry; clean it up and keep scanning.
					if derr := txn.Delete(key); derr != nil {
						return derr
					}
					continue
				}
				return err
			}

			var env envelope
			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			if env.ReceiveCount >= m.maxReceive {
				// Poison message: remove it and surface it to the caller.
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				dead = &env
				return nil
			}

			// Claim: bump receive count and push visibility out.
			env.ReceiveCount++
			env.VisibleAt = time.Now().Add(m.visibilityTimeout)

			newData, err := json.Marshal(env)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(id), newData); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(env.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = env
			return nil
		}

		return models.ErrNoMessage
	})

	if err != nil {
		return nil, nil, err
	}

	if dead != nil {
		received := &interfaces.ReceivedMessage{
			ID:           dead.ID,
			Body:         &dead.Body,
			ReceiveCount: dead.ReceiveCount,
		}
		return received, nil, models.ErrMessageDead
	}

	received := &interfaces.ReceivedMessage{
		ID:           claimed.ID,
		Body:         &claimed.Body,
		ReceiveCount: claimed.ReceiveCount,
	}
	return received, m.deleteFunc(claimed.ID), nil
}

// deleteFunc acks a claimed message. Safe to call after the visibility
// deadline passed; a redelivered copy keeps the same message key.
func (m *BadgerQueue) deleteFunc(id string) func() error {
	return func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			msgKey := m.msgKey(id)
			item, err := txn.Get(msgKey)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					return nil // already deleted
				}
				return err
			}

			var env envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			if err := txn.Delete(m.indexKey(env.VisibleAt, id)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			return txn.Delete(msgKey)
		})
	}
}

// Extend pushes out the visibility deadline for a claimed message.
func (m *BadgerQueue) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		msgKey := m.msgKey(messageID)
		item, err := txn.Get(msgKey)
		if err != nil {
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		oldVisibleAt := env.VisibleAt
		env.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, newData); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(oldVisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, messageID), []byte{})
	})
}

// Length returns the number of messages in the queue (visible or claimed).
func (m *BadgerQueue) Length(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Stats returns queue metrics for the health and stats endpoints.
func (m *BadgerQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	visible := 0
	inFlight := 0
	var oldest time.Time

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var env envelope
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				continue
			}
			if env.VisibleAt.After(now) {
				inFlight++
			} else {
				visible++
			}
			if oldest.IsZero() || env.EnqueuedAt.Before(oldest) {
				oldest = env.EnqueuedAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats := map[string]interface{}{
		"queue_name": m.queueName,
		"visible":    visible,
		"in_flight":  inFlight,
	}
	if !oldest.IsZero() {
		stats["oldest_enqueued_at"] = oldest
	}
	return stats, nil
}

// Close closes the queue manager (no-op; the DB is managed externally).
func (m *BadgerQueue) Close() error {
	return nil
}

// Helpers

func (m *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 22 { // 20 digits + colon + at least one id char
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
