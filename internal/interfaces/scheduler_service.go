package interfaces

import (
	"context"
	"time"
)

// TaskStatus is the externally visible state of a maintenance task.
type TaskStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Running   bool       `json:"running"`
	LastError string     `json:"last_error,omitempty"`
}

// SchedulerService manages cron-based maintenance tasks
type SchedulerService interface {
	// Start begins running registered tasks on their schedules
	Start() error

	// Stop halts the scheduler, waiting for running tasks to finish
	Stop() error

	// RegisterTask registers a handler under a cron schedule.
	// Must be called before Start.
	RegisterTask(name, schedule string, handler func(ctx context.Context) error) error

	// TriggerTask runs a registered task immediately, off-schedule
	TriggerTask(name string) error

	// TaskStatuses returns every registered task's status keyed by name
	TaskStatuses() map[string]TaskStatus
}
