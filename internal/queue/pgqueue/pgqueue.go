// Package pgqueue implements internal/queue's EnqueuerRepository and
// WorkerRepository on PostgreSQL via pgx, using SELECT ... FOR UPDATE SKIP
// LOCKED for claim concurrency in place of the teacher's in-process mutex
// (internal/queue mirrors pkg/queue.MemoryStorage's claim algorithm; this
// package is the SQL translation of the same lane-order, then priority, then
// time ordering).
package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starksama/herald/internal/queue"
)

// Storage backs internal/queue with a pgxpool.Pool.
type Storage struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// CreateTask implements queue.EnqueuerRepository.
func (s *Storage) CreateTask(ctx context.Context, t *queue.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_tasks (id, lane, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Lane, t.TaskName, t.Payload, t.Status, t.Priority, t.RetryCount, t.MaxRetries, t.ScheduledAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgqueue: creating task: %w", err)
	}
	return nil
}

// ClaimTask implements queue.WorkerRepository using a SKIP LOCKED claim so
// concurrent workers never block each other on the same candidate row.
func (s *Storage) ClaimTask(ctx context.Context, workerID uuid.UUID, lanes []string, lockDuration time.Duration) (*queue.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgqueue: beginning claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, lane, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, locked_until, locked_by, processed_at, error, created_at
		FROM queue_tasks
		WHERE status = 'pending' AND lane = ANY($1) AND scheduled_at <= now()
		ORDER BY array_position($1, lane), priority DESC, scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, lanes)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("pgqueue: selecting claimable task: %w", err)
	}

	lockUntil := time.Now().Add(lockDuration)
	if _, err := tx.Exec(ctx, `
		UPDATE queue_tasks SET status = 'processing', locked_until = $2, locked_by = $3
		WHERE id = $1`, t.ID, lockUntil, workerID); err != nil {
		return nil, fmt.Errorf("pgqueue: marking task claimed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgqueue: committing claim: %w", err)
	}

	t.Status = queue.TaskStatusProcessing
	t.LockedUntil = &lockUntil
	t.LockedBy = &workerID
	return t, nil
}

// CompleteTask implements queue.WorkerRepository.
func (s *Storage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_tasks SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, taskID, now)
	if err != nil {
		return fmt.Errorf("pgqueue: completing task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgqueue: task %s not found or not processing", taskID)
	}
	return nil
}

// FailTask implements queue.WorkerRepository, mirroring the teacher's linear
// 30s-per-retry backoff (pkg/queue.MemoryStorage.FailTask).
func (s *Storage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgqueue: beginning fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var retryCount, maxRetries int8
	if err := tx.QueryRow(ctx, `SELECT retry_count, max_retries FROM queue_tasks WHERE id = $1 AND status = 'processing'`, taskID).
		Scan(&retryCount, &maxRetries); err != nil {
		return fmt.Errorf("pgqueue: loading task for failure: %w", err)
	}
	retryCount++

	if retryCount >= maxRetries {
		if _, err := tx.Exec(ctx, `
			UPDATE queue_tasks SET status = 'failed', retry_count = $2, error = $3, locked_until = NULL, locked_by = NULL
			WHERE id = $1`, taskID, retryCount, errMsg); err != nil {
			return fmt.Errorf("pgqueue: marking task failed: %w", err)
		}
	} else {
		backoff := time.Duration(retryCount) * 30 * time.Second
		if _, err := tx.Exec(ctx, `
			UPDATE queue_tasks SET status = 'pending', retry_count = $2, error = $3, scheduled_at = $4, locked_until = NULL, locked_by = NULL
			WHERE id = $1`, taskID, retryCount, errMsg, time.Now().Add(backoff)); err != nil {
			return fmt.Errorf("pgqueue: rescheduling task: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// MoveToDLQ implements queue.WorkerRepository.
func (s *Storage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgqueue: beginning dlq tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var t queue.Task
	var errMsg *string
	if err := tx.QueryRow(ctx, `
		SELECT id, lane, task_name, payload, priority, retry_count, error FROM queue_tasks WHERE id = $1`, taskID).
		Scan(&t.ID, &t.Lane, &t.TaskName, &t.Payload, &t.Priority, &t.RetryCount, &errMsg); err != nil {
		return fmt.Errorf("pgqueue: loading task for dlq: %w", err)
	}
	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_tasks_dlq (id, task_id, lane, task_name, payload, priority, error, retry_count, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		uuid.New(), t.ID, t.Lane, t.TaskName, t.Payload, t.Priority, msg, t.RetryCount); err != nil {
		return fmt.Errorf("pgqueue: inserting dlq entry: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, taskID); err != nil {
		return fmt.Errorf("pgqueue: deleting dlq'd task: %w", err)
	}
	return tx.Commit(ctx)
}

func scanTask(row pgx.Row) (*queue.Task, error) {
	var t queue.Task
	if err := row.Scan(&t.ID, &t.Lane, &t.TaskName, &t.Payload, &t.Status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
