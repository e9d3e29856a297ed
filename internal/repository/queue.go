package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
)

// TriggerQueue is the producer side of the repeatable job queue, keyed by scheduler id.
type TriggerQueue interface {
	// UpsertSchedule creates or replaces the repeating trigger for schedulerID, dropping any
	// pending delivery, and returns the newly armed job. It returns a nil job when the
	// options leave nothing to arm.
	UpsertSchedule(ctx context.Context, schedulerID string, opts domain.RepeatOptions, payload domain.JobPayload) (*domain.ArmedJob, error)
	// RemoveSchedule drops the trigger and its pending delivery. No-op when absent.
	RemoveSchedule(ctx context.Context, schedulerID string) error
	// CurrentJob returns the pending or running delivery for schedulerID, nil when none.
	CurrentJob(ctx context.Context, schedulerID string) (*domain.ArmedJob, error)
}

// JobQueue is the consumer side used by the worker pool and the reaper.
type JobQueue interface {
	Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error)
	Heartbeat(ctx context.Context, jobID string) error

	// Complete marks the delivery done and re-arms the next occurrence in the same call,
	// returning it. Nil when the schedule is exhausted or was removed meanwhile.
	Complete(ctx context.Context, jobID string) (*domain.ArmedJob, error)
	Discard(ctx context.Context, jobID, reason string) error
	Retry(ctx context.Context, jobID, lastError string, retryAt time.Time) error
	Fail(ctx context.Context, jobID, lastError string) error

	// Reaper methods: recover deliveries from crashed workers.
	RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)
	FailStale(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.Job, error)
}
