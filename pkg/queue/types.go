package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the handler responsible for a job.
type JobType string

func (t JobType) String() string { return string(t) }

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// States lists every job state in reporting order.
var States = []JobState{
	JobStateWaiting,
	JobStateDelayed,
	JobStateActive,
	JobStateCompleted,
	JobStateFailed,
}

// Terminal reports whether no further transitions happen from this state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Valid checks the state is one of the known values.
func (s JobState) Valid() bool {
	switch s {
	case JobStateWaiting, JobStateDelayed, JobStateActive, JobStateCompleted, JobStateFailed:
		return true
	}
	return false
}

// Priority bounds. Lower value means the job is claimed earlier.
// The upper bound keeps (priority-1)*2^32+sequence exact in a float64 sort score.
const (
	PriorityHighest = 1
	PriorityLowest  = 2_097_152
	PriorityDefault = 5
)

// ValidPriority checks if the priority is within the supported range
func ValidPriority(p int) bool {
	return p >= PriorityHighest && p <= PriorityLowest
}

const (
	// DefaultMaxAttempts is used when the enqueue call does not set one.
	DefaultMaxAttempts = 3
	// MaxAttemptsLimit caps retries so a poisoned job cannot loop forever.
	MaxAttemptsLimit = 25
)

// Job is a unit of work stored in the queue.
// Payload is immutable once enqueued; only the store mutates the remaining fields.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	State       JobState        `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Sequence    int64           `json:"sequence"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	CreatedAt   time.Time       `json:"created_at"`
	LockedBy    string          `json:"locked_by,omitempty"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Result      string          `json:"result,omitempty"`
}

// AttemptsLeft reports whether the job may be executed again.
func (j *Job) AttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// Failure describes a failed execution attempt.
type Failure struct {
	// Reason is stored as the job's last error.
	Reason string
	// RetryIn is how long the job stays delayed before it is eligible again.
	RetryIn time.Duration
	// Final marks the job failed even if attempts remain.
	Final bool
}

// Stats holds job counts per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// Backlog is the number of jobs not yet picked up by a worker.
func (s Stats) Backlog() int64 {
	return s.Waiting + s.Delayed
}

// Count returns the number of jobs in the given state.
func (s Stats) Count(state JobState) int64 {
	switch state {
	case JobStateWaiting:
		return s.Waiting
	case JobStateDelayed:
		return s.Delayed
	case JobStateActive:
		return s.Active
	case JobStateCompleted:
		return s.Completed
	case JobStateFailed:
		return s.Failed
	}
	return 0
}

// NewStats builds Stats from per-state counts and fills in Total.
func NewStats(counts map[JobState]int64) Stats {
	s := Stats{
		Waiting:   counts[JobStateWaiting],
		Active:    counts[JobStateActive],
		Completed: counts[JobStateCompleted],
		Failed:    counts[JobStateFailed],
		Delayed:   counts[JobStateDelayed],
	}
	s.Total = s.Waiting + s.Active + s.Completed + s.Failed + s.Delayed
	return s
}
