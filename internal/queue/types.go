// Package queue is a repository-agnostic delayed task queue. It drives
// the delivery engine's two lanes (§4.F): tasks are fanned out by
// internal/ingest, claimed and executed by internal/delivery's worker, and
// a task's own retry-as-fresh-enqueue is how the fixed backoff schedule
// (§4.F) is implemented — the queue's own retry counters exist only to
// catch genuine unexpected errors, never business-level delivery failures.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Lane names. Herald routes every job onto exactly one of these two, chosen
// by Urgency.Lane(); there is no general-purpose or periodic queue.
const (
	LaneHigh   = "delivery-high"
	LaneNormal = "delivery-normal"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority represents task priority (0-100, higher runs first).
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Task is a single unit of work claimed by a Worker.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Lane        string     `json:"lane"`
	TaskName    string     `json:"task_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	RetryCount  int8       `json:"retry_count"`
	MaxRetries  int8       `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TasksDlq is a task that exhausted the generic queue's own retry budget.
// This is distinct from internal/domain.DeadLetterEntry, which records a
// delivery that exhausted Herald's business-level backoff schedule; a task
// only lands here for a genuine unexpected/programmer error (§7).
type TasksDlq struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	Lane       string    `json:"lane"`
	TaskName   string    `json:"task_name"`
	Payload    []byte    `json:"payload,omitempty"`
	Priority   Priority  `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int8      `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
	CreatedAt  time.Time `json:"created_at"`
}
