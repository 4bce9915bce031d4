// Package memqueue implements queue.EnqueuerRepository and
// queue.WorkerRepository entirely in memory, for use by the engine's own
// test suites in place of a Postgres-backed tasks table.
package memqueue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starksama/herald/internal/queue"
)

// Storage is an in-memory implementation of queue.EnqueuerRepository and
// queue.WorkerRepository, indexed by status for O(pending) claim scans,
// mirroring the teacher's MemoryStorage shape.
type Storage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*queue.Task
	dlq   map[uuid.UUID]*queue.TasksDlq

	byStatus map[queue.TaskStatus][]uuid.UUID
}

func New() *Storage {
	return &Storage{
		tasks:    make(map[uuid.UUID]*queue.Task),
		dlq:      make(map[uuid.UUID]*queue.TasksDlq),
		byStatus: make(map[queue.TaskStatus][]uuid.UUID),
	}
}

func (s *Storage) CreateTask(_ context.Context, task *queue.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("memqueue: task %s already exists", task.ID)
	}

	cp := *task
	s.tasks[task.ID] = &cp
	s.byStatus[task.Status] = append(s.byStatus[task.Status], task.ID)
	return nil
}

// ClaimTask selects a due pending task ordered first by the position of its
// lane in lanes (so a worker listing LaneHigh first drains it ahead of
// LaneNormal whatever the priorities), then by highest priority, then by
// earliest scheduled time.
func (s *Storage) ClaimTask(_ context.Context, workerID uuid.UUID, lanes []string, lockDuration time.Duration) (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *queue.Task
	var bestLaneRank int
	var bestPriority queue.Priority = -1

	for _, id := range s.byStatus[queue.TaskStatusPending] {
		t := s.tasks[id]

		rank := slices.Index(lanes, t.Lane)
		if rank < 0 {
			continue
		}
		if t.ScheduledAt.After(now) {
			continue
		}
		if t.LockedUntil != nil && t.LockedUntil.After(now) {
			continue
		}

		switch {
		case best == nil:
		case rank < bestLaneRank:
		case rank == bestLaneRank && t.Priority > bestPriority:
		case rank == bestLaneRank && t.Priority == bestPriority && t.ScheduledAt.Before(best.ScheduledAt):
		default:
			continue
		}
		best, bestLaneRank, bestPriority = t, rank, t.Priority
	}

	if best == nil {
		return nil, queue.ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = queue.TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	s.removeFromStatus(best.ID, queue.TaskStatusPending)
	s.byStatus[queue.TaskStatusProcessing] = append(s.byStatus[queue.TaskStatusProcessing], best.ID)

	cp := *best
	return &cp, nil
}

func (s *Storage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("memqueue: task %s not found", taskID)
	}

	now := time.Now()
	t.Status = queue.TaskStatusCompleted
	t.ProcessedAt = &now
	t.LockedUntil = nil
	t.LockedBy = nil

	s.removeFromStatus(taskID, queue.TaskStatusProcessing)
	s.byStatus[queue.TaskStatusCompleted] = append(s.byStatus[queue.TaskStatusCompleted], taskID)
	return nil
}

func (s *Storage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("memqueue: task %s not found", taskID)
	}

	t.RetryCount++
	t.Error = &errorMsg
	t.LockedUntil = nil
	t.LockedBy = nil

	s.removeFromStatus(taskID, queue.TaskStatusProcessing)
	if t.RetryCount >= t.MaxRetries {
		t.Status = queue.TaskStatusFailed
		s.byStatus[queue.TaskStatusFailed] = append(s.byStatus[queue.TaskStatusFailed], taskID)
		return nil
	}

	t.Status = queue.TaskStatusPending
	t.ScheduledAt = time.Now().Add(time.Duration(t.RetryCount) * 30 * time.Second)
	s.byStatus[queue.TaskStatusPending] = append(s.byStatus[queue.TaskStatusPending], taskID)
	return nil
}

func (s *Storage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("memqueue: task %s not found", taskID)
	}

	entry := &queue.TasksDlq{
		ID:         uuid.New(),
		TaskID:     t.ID,
		Lane:       t.Lane,
		TaskName:   t.TaskName,
		Payload:    t.Payload,
		Priority:   t.Priority,
		RetryCount: t.RetryCount,
		FailedAt:   time.Now(),
		CreatedAt:  time.Now(),
	}
	if t.Error != nil {
		entry.Error = *t.Error
	}
	s.dlq[entry.ID] = entry

	s.removeFromStatus(taskID, t.Status)
	delete(s.tasks, taskID)
	return nil
}

func (s *Storage) removeFromStatus(id uuid.UUID, status queue.TaskStatus) {
	ids := s.byStatus[status]
	for i, existing := range ids {
		if existing == id {
			s.byStatus[status] = slices.Delete(ids, i, i+1)
			return
		}
	}
}

// PendingCount is a test helper reporting how many tasks sit pending on lane.
func (s *Storage) PendingCount(lane string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.byStatus[queue.TaskStatusPending] {
		if s.tasks[id].Lane == lane {
			n++
		}
	}
	return n
}

// DLQCount is a test helper reporting how many tasks have been moved to the
// generic queue's own dead letter store (distinct from Herald's business
// DLQ in internal/store).
func (s *Storage) DLQCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dlq)
}
