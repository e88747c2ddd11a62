package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrValidation is returned when an enqueue request is malformed; the job is never created
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 1 and 2097152")

	// ErrStoreUnavailable is returned when the backing store cannot be reached
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrHandlerAlreadyRegistered is returned when two handlers claim the same job type
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for job type")

	// ErrInvalidSchedule is returned when a cleanup schedule spec cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrNoJobToClaim is returned by ClaimNext when nothing is eligible
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrJobNotFound is returned when a job id does not exist in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrLeaseLost is returned when a worker reports on a job it no longer holds
	ErrLeaseLost = errors.New("job is not held by this worker")

	// ErrInvalidCleanState is returned when cleaning a non-terminal state
	ErrInvalidCleanState = errors.New("only completed and failed jobs can be cleaned")

	// ErrPermanent marks handler errors that retrying cannot fix
	ErrPermanent = errors.New("permanent job failure")

	// ErrWorkerRunning is returned when Start is called twice
	ErrWorkerRunning = errors.New("worker already started")

	// ErrWorkerNotRunning is returned when Stop is called on an idle worker
	ErrWorkerNotRunning = errors.New("worker not started")
)

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// IsStoreUnavailable reports whether err signals an unreachable store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
