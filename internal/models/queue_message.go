package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// ErrMessageDead is returned when a message has exhausted its receive budget.
// The dead message is removed from the queue and handed back so the owning
// job can be marked stalled.
var ErrMessageDead = errors.New("message exceeded receive budget")

// Queue message types routed to worker executors.
const (
	MessageTypeAnalyze = "analyze"
)

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // References jobs/<id>
	Type    string          `json:"type"`    // Message type for executor routing
	Payload json.RawMessage `json:"payload"` // Type-specific data (passed through)
}

// AnalyzePayload is the payload carried by MessageTypeAnalyze messages.
// The document text itself lives in the job's document snapshot; the
// payload only carries what the worker needs to find it.
type AnalyzePayload struct {
	JobID string `json:"job_id"`
}
