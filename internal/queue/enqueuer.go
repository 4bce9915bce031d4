package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository is the persistence contract an Enqueuer writes through.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer creates delayed tasks on a lane.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultLane     string
	defaultPriority Priority
}

func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	options := &enqueuerOptions{defaultLane: LaneNormal, defaultPriority: PriorityDefault}
	for _, opt := range opts {
		opt(options)
	}
	return &Enqueuer{repo: repo, defaultLane: options.defaultLane, defaultPriority: options.defaultPriority}, nil
}

// Enqueue creates a new task carrying payload, marshaled to JSON.
func (e *Enqueuer) Enqueue(ctx context.Context, taskName string, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	options := &enqueueOptions{lane: e.defaultLane, priority: e.defaultPriority, maxRetries: 0}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return ErrInvalidPriority
	}

	task, err := buildTask(taskName, payload, options)
	if err != nil {
		return err
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("queue: creating task %q on lane %q: %w", task.TaskName, task.Lane, err)
	}
	return nil
}

func buildTask(taskName string, payload any, options *enqueueOptions) (*Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: marshaling payload of type %T: %w", payload, err)
	}

	scheduledAt := time.Now()
	switch {
	case options.scheduledAt != nil:
		scheduledAt = *options.scheduledAt
	case options.delay > 0:
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Task{
		ID:          uuid.New(),
		Lane:        options.lane,
		TaskName:    taskName,
		Payload:     payloadBytes,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		RetryCount:  0,
		MaxRetries:  options.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}, nil
}
