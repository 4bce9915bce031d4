package queue

import "errors"

var (
	ErrRepositoryNil        = errors.New("queue: repository cannot be nil")
	ErrPayloadNil            = errors.New("queue: payload cannot be nil")
	ErrInvalidPriority       = errors.New("queue: priority must be between 0 and 100")
	ErrHandlerNotFound       = errors.New("queue: no handler registered for task name")
	ErrNoHandlers            = errors.New("queue: worker has no handlers registered")
	ErrNoTaskToClaim         = errors.New("queue: no task available to claim")
	ErrFailedToMoveToDLQ     = errors.New("queue: failed to move task to dead letter queue")
)
