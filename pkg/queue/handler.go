package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes jobs of a single type and returns a result to record
	// on the completed job (e.g. a transport message id).
	Handler interface {
		Type() JobType
		Handle(ctx context.Context, job *Job) (string, error)
	}

	HandlerFunc[T any] func(ctx context.Context, payload T) (string, error)
)

// NewHandler binds a typed payload handler to a job type.
// Payloads that do not decode fail the job permanently.
func NewHandler[T any](jobType JobType, handler HandlerFunc[T]) Handler {
	return &typedHandler[T]{
		jobType: jobType,
		handler: handler,
	}
}

type typedHandler[T any] struct {
	jobType JobType
	handler HandlerFunc[T]
}

func (h *typedHandler[T]) Type() JobType {
	return h.jobType
}

func (h *typedHandler[T]) Handle(ctx context.Context, job *Job) (string, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", Permanent(fmt.Errorf("decode %s payload: %w", h.jobType, err))
	}
	return h.handler(ctx, payload)
}

// buildRegistry indexes handlers by job type, rejecting duplicates.
func buildRegistry(handlers []Handler) (map[JobType]Handler, error) {
	registry := make(map[JobType]Handler, len(handlers))
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, exists := registry[h.Type()]; exists {
			return nil, fmt.Errorf("%w: %q", ErrHandlerAlreadyRegistered, h.Type())
		}
		registry[h.Type()] = h
	}
	if len(registry) == 0 {
		return nil, ErrNoHandlers
	}
	return registry, nil
}
