package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/casestrainer/internal/models"
)

// ReceivedMessage is a claimed queue message plus the envelope metadata a
// worker needs to manage its lease.
type ReceivedMessage struct {
	ID           string
	Body         *models.QueueMessage
	ReceiveCount int
}

// QueueManager manages the persistent job message queue
type QueueManager interface {
	// Enqueue adds a message, immediately visible
	Enqueue(ctx context.Context, msg *models.QueueMessage) error

	// EnqueueWithDelay adds a message that becomes visible after the delay
	EnqueueWithDelay(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error

	// Receive claims the next visible message and hides it for the
	// visibility timeout. Returns models.ErrNoMessage when the queue is
	// empty and models.ErrMessageDead when a message exceeded its receive
	// budget (the dead message is returned for failure handling).
	Receive(ctx context.Context) (*ReceivedMessage, func() error, error)

	// Extend pushes out the visibility deadline for a claimed message.
	// Workers call this as a heartbeat during long stages.
	Extend(ctx context.Context, messageID string, duration time.Duration) error

	// Length returns the number of messages in the queue
	Length(ctx context.Context) (int, error)

	// Stats returns queue metrics (visible, in-flight, oldest enqueue time)
	Stats(ctx context.Context) (map[string]interface{}, error)

	Close() error
}

// WorkerPool manages concurrent job processing
type WorkerPool interface {
	// RegisterHandler binds a message type to its handler
	RegisterHandler(messageType string, handler func(ctx context.Context, msg *ReceivedMessage) error)

	Start() error
	Stop() error
}
