package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/casestrainer/internal/interfaces"
	"github.com/ternarybob/casestrainer/internal/models"
)

// Backoff configuration for idle polling
const (
	minBackoff = 100 * time.Millisecond // Initial backoff when queue is empty
	maxBackoff = 5 * time.Second        // Maximum backoff duration
)

// DeadMessageHandler is invoked when a message exhausts its receive budget.
// The message is already off the queue; the handler's job is to mark the
// owning job failed.
type DeadMessageHandler func(ctx context.Context, msg *interfaces.ReceivedMessage)

var _ interfaces.WorkerPool = (*Processor)(nil)

// Processor pulls messages off the queue and routes them to registered
// handlers by message type. Multiple goroutines poll concurrently; each
// message is claimed by exactly one of them.
type Processor struct {
	queueMgr    interfaces.QueueManager
	handlers    map[string]func(ctx context.Context, msg *interfaces.ReceivedMessage) error
	onDead      DeadMessageHandler
	logger      arbor.ILogger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
	concurrency int
}

// NewProcessor creates a worker pool over the queue. The concurrency
// parameter controls how many jobs can be processed in parallel.
func NewProcessor(queueMgr interfaces.QueueManager, logger arbor.ILogger, concurrency int, onDead DeadMessageHandler) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if concurrency < 1 {
		concurrency = 1
	}

	return &Processor{
		queueMgr:    queueMgr,
		handlers:    make(map[string]func(ctx context.Context, msg *interfaces.ReceivedMessage) error),
		onDead:      onDead,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
	}
}

// RegisterHandler binds a message type to its handler. Must be called
// before Start.
func (p *Processor) RegisterHandler(messageType string, handler func(ctx context.Context, msg *interfaces.ReceivedMessage) error) {
	p.handlers[messageType] = handler
	p.logger.Debug().
		Str("message_type", messageType).
		Msg("Queue handler registered")
}

// Start launches the worker goroutines. Call AFTER all services are fully
// initialized so handlers never see a half-wired container.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("Queue processor already running")
		return nil
	}

	p.running = true
	p.logger.Info().
		Int("concurrency", p.concurrency).
		Msg("Starting queue processor")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.processLoop(i)
	}
	return nil
}

// Stop stops the processor gracefully, waiting for in-flight jobs.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping queue processor...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Queue processor stopped")
	return nil
}

// processLoop is the main polling loop for one worker goroutine.
func (p *Processor) processLoop(workerID int) {
	defer p.wg.Done()

	// Panic recovery wrapper: without this, a panic in job processing or
	// storage would take down the whole process without a log line.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Fatal().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Int("worker_id", workerID).
				Msg("FATAL: queue worker goroutine panicked")
		}
	}()

	p.logger.Debug().
		Int("worker_id", workerID).
		Msg("Queue worker started")

	currentBackoff := minBackoff

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Msg("Queue worker stopping")
			return
		default:
			processed := p.processNext(workerID)

			if processed {
				currentBackoff = minBackoff
			} else {
				// No job available - back off to reduce CPU usage.
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(currentBackoff):
				}
				currentBackoff *= 2
				if currentBackoff > maxBackoff {
					currentBackoff = maxBackoff
				}
			}
		}
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// processNext claims and runs the next message. Returns true if a message
// was handled (successfully or not), false if the queue was empty.
func (p *Processor) processNext(workerID int) bool {
	var msg *interfaces.ReceivedMessage
	var deleteFn func() error

	// Panic recovery for a single message so one poisonous job cannot kill
	// the worker goroutine.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Int("worker_id", workerID).
				Msg("Recovered from panic in job processing")

			if deleteFn != nil {
				if err := deleteFn(); err != nil {
					p.logger.Error().Err(err).Msg("Failed to delete message after panic")
				}
			}
		}
	}()

	msg, deleteFn, err := p.queueMgr.Receive(p.ctx)
	if err != nil {
		if errors.Is(err, models.ErrMessageDead) && msg != nil {
			p.logger.Warn().
				Str("job_id", msg.Body.JobID).
				Int("receive_count", msg.ReceiveCount).
				Msg("Message exceeded receive budget")
			if p.onDead != nil {
				p.onDead(p.ctx, msg)
			}
			return true
		}
		// Queue empty; trigger backoff.
		return false
	}

	start := time.Now()
	p.logger.Info().
		Str("job_id", msg.Body.JobID).
		Str("message_type", msg.Body.Type).
		Int("worker_id", workerID).
		Int("receive_count", msg.ReceiveCount).
		Msg("Job started")

	handler, ok := p.handlers[msg.Body.Type]
	if !ok {
		p.logger.Error().
			Str("message_type", msg.Body.Type).
			Str("job_id", msg.Body.JobID).
			Msg("No handler registered for message type")
		if err := deleteFn(); err != nil {
			p.logger.Error().Err(err).Msg("Failed to delete unroutable message")
		}
		return true
	}

	err = handler(p.ctx, msg)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", msg.Body.JobID).
			Int("worker_id", workerID).
			Dur("duration", time.Since(start)).
			Msg("Job failed")
	} else {
		p.logger.Info().
			Str("job_id", msg.Body.JobID).
			Int("worker_id", workerID).
			Dur("duration", time.Since(start)).
			Msg("Job finished")
	}

	// Transient failures leave the message in place so the visibility
	// timeout redelivers it; everything else is acked.
	if err != nil && models.KindOf(err) == models.ErrorKindTransient {
		p.logger.Warn().
			Str("job_id", msg.Body.JobID).
			Msg("Leaving message for redelivery after transient failure")
		return true
	}

	if err := deleteFn(); err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", msg.Body.JobID).
			Msg("Failed to delete message from queue")
	}

	return true
}
