package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrSkipExecution tells the queue to drop a delivery without charging or re-arming,
	// e.g. when the schedule was removed or already finished.
	ErrSkipExecution = errors.New("replenishment is not executable")
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDiscarded JobStatus = "discarded"
)

// RepeatOptions describes a repeating trigger. Limit counts the remaining firings.
type RepeatOptions struct {
	Period   time.Duration
	FirstRun time.Time
	EndDate  *time.Time
	Limit    *int
}

// JobPayload is delivered to the worker on every firing.
type JobPayload struct {
	ReplenishmentID string       `json:"replenishment_id"`
	CustomerID      string       `json:"customer_id"`
	PeriodMillis    int64        `json:"period_ms"`
	Order           OrderPayload `json:"order"`
}

func (p JobPayload) Period() time.Duration {
	return time.Duration(p.PeriodMillis) * time.Millisecond
}

// ArmedJob identifies the pending trigger the queue holds for a scheduler id.
type ArmedJob struct {
	ID          string
	SchedulerID string
	RunAt       time.Time
}

// Job is one delivery of a repeating trigger.
type Job struct {
	ID          string
	SchedulerID string
	Payload     JobPayload

	Status      JobStatus
	RunAt       time.Time
	Attempt     int // 1-based once claimed
	MaxAttempts int

	ClaimedAt   *time.Time
	ClaimedBy   *string // worker ID
	HeartbeatAt *time.Time
	CompletedAt *time.Time
	LastError   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}
