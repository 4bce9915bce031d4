package queue

import (
	"context"
	"encoding/json"
)

// Handler executes tasks registered under Name().
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// TaskHandlerFunc is a typed handler body; NewTaskHandler adapts it to
// Handler, unmarshaling the task payload into T before invoking it.
type TaskHandlerFunc[T any] func(ctx context.Context, payload T) error

// NewTaskHandler builds a Handler registered under name.
func NewTaskHandler[T any](name string, handler TaskHandlerFunc[T]) Handler {
	return &taskHandler[T]{name: name, handler: handler}
}

type taskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Name() string { return h.name }

func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return err
	}
	return h.handler(ctx, t)
}
