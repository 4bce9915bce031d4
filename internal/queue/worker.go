package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerRepository is the persistence contract a Worker claims and
// completes tasks through.
type WorkerRepository interface {
	ClaimTask(ctx context.Context, workerID uuid.UUID, lanes []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
}

// Worker polls for tasks and dispatches them to registered Handlers.
// Concurrency uses a buffered semaphore and sync.WaitGroup rather than
// errgroup: there is no single joint error to collect, only a fixed pool of
// in-flight task goroutines to wait out on Stop.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	lanes    []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	options := &workerOptions{
		lanes:              []string{LaneHigh, LaneNormal},
		pullInterval:       1 * time.Second,
		lockTimeout:        1 * time.Minute,
		maxConcurrentTasks: 20,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		lanes:        options.lanes,
		workerID:     uuid.New(),
		sem:          make(chan struct{}, options.maxConcurrentTasks),
		pullInterval: options.pullInterval,
		lockTimeout:  options.lockTimeout,
		logger:       options.logger,
	}, nil
}

func (w *Worker) RegisterHandler(handler Handler) {
	if handler == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[handler.Name()] = handler
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("queue: worker already started")
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("queue worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("lanes", w.lanes),
		slog.Int("max_concurrent", cap(w.sem)))
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("queue: worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("queue worker stopping", slog.String("worker_id", w.workerID.String()))
	w.wg.Wait()
	w.logger.Info("queue worker stopped", slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run adapts the worker to the teacher's Run(ctx) func() error shape used
// by cmd/*/main.go's shutdown sequencing.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					if err := w.pullAndProcess(); err != nil && !errors.Is(err, ErrHandlerNotFound) {
						w.logger.Error("queue: failed to process task",
							slog.String("worker_id", w.workerID.String()),
							slog.String("error", err.Error()))
					}
				}()
			default:
			}
		}
	}
}

func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.lanes, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return nil
		}
		return fmt.Errorf("queue: claiming task: %w", err)
	}
	if task == nil {
		return nil
	}

	w.logger.Debug("queue: claimed task",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("lane", task.Lane))

	return w.processTask(task)
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("queue: panic in handler: %v", r)
			w.logger.Error("queue: handler panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("task_id", task.ID.String()),
				slog.Any("panic", r))
			_ = w.handleTaskFailure(task, retErr)
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return w.handleMissingHandler(task)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	err := handler.Handle(ctx, task.Payload)
	duration := time.Since(start)

	if err != nil {
		return w.handleTaskFailure(task, err)
	}
	return w.handleTaskSuccess(task, duration)
}

// handleMissingHandler moves a task with no registered handler straight to
// the DLQ: retrying would fail identically every time.
func (w *Worker) handleMissingHandler(task *Task) error {
	w.logger.Error("queue: no handler registered for task",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_name", task.TaskName))

	if err := w.repo.FailTask(w.ctx, task.ID, "no handler registered for task name: "+task.TaskName); err != nil {
		return fmt.Errorf("queue: marking task %s failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailedToMoveToDLQ, task.ID, err)
	}
	return ErrHandlerNotFound
}

// handleTaskFailure records a genuinely unexpected handler error. Herald's
// own business-level delivery retries never reach here: internal/delivery's
// handler always returns nil and schedules its own re-enqueue instead.
func (w *Worker) handleTaskFailure(task *Task, execErr error) error {
	w.logger.Error("queue: task failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.String("error", execErr.Error()))

	if err := w.repo.FailTask(w.ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("queue: updating task %s to failed: %w", task.ID, err)
	}

	// FailTask has just incremented the stored retry count; task still holds
	// the count from before this failure.
	if task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(w.ctx, task.ID); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFailedToMoveToDLQ, task.ID, err)
		}
		w.logger.Warn("queue: task moved to dead letter queue",
			slog.String("worker_id", w.workerID.String()),
			slog.String("task_id", task.ID.String()))
	}
	return nil
}

func (w *Worker) handleTaskSuccess(task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(w.ctx, task.ID); err != nil {
		return fmt.Errorf("queue: marking task %s completed: %w", task.ID, err)
	}
	w.logger.Debug("queue: task completed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.Duration("duration", duration))
	return nil
}
