package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueue struct {
	mu sync.Mutex

	claimFn     func(limit int) ([]*domain.Job, error)
	completeFn  func(jobID string) (*domain.ArmedJob, error)
	failStaleFn func() ([]*domain.Job, error)
	rescheduled int

	claimLimits []int
	completed   []string
	discarded   []string
	retried     map[string]time.Time
	failed      []string
}

var _ repository.JobQueue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{retried: map[string]time.Time{}}
}

func (q *fakeQueue) Claim(_ context.Context, _ string, limit int) ([]*domain.Job, error) {
	q.mu.Lock()
	q.claimLimits = append(q.claimLimits, limit)
	q.mu.Unlock()
	if q.claimFn == nil {
		return nil, nil
	}
	return q.claimFn(limit)
}

func (q *fakeQueue) Heartbeat(context.Context, string) error { return nil }

func (q *fakeQueue) Complete(_ context.Context, jobID string) (*domain.ArmedJob, error) {
	q.mu.Lock()
	q.completed = append(q.completed, jobID)
	q.mu.Unlock()
	if q.completeFn == nil {
		return nil, nil
	}
	return q.completeFn(jobID)
}

func (q *fakeQueue) Discard(_ context.Context, jobID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discarded = append(q.discarded, jobID)
	return nil
}

func (q *fakeQueue) Retry(_ context.Context, jobID, _ string, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[jobID] = retryAt
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, jobID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, jobID)
	return nil
}

func (q *fakeQueue) RescheduleStale(context.Context, time.Time, int) (int, error) {
	return q.rescheduled, nil
}

func (q *fakeQueue) FailStale(context.Context, time.Time, int) ([]*domain.Job, error) {
	if q.failStaleFn == nil {
		return nil, nil
	}
	return q.failStaleFn()
}

type fakeHandler struct {
	mu sync.Mutex

	processFn   func(job *domain.Job) (*domain.Charge, error)
	completeErr error

	processed []string
	completed []*domain.ArmedJob
	failed    []string
	causes    []error
}

func (h *fakeHandler) Process(_ context.Context, job *domain.Job) (*domain.Charge, error) {
	h.mu.Lock()
	h.processed = append(h.processed, job.ID)
	h.mu.Unlock()
	if h.processFn == nil {
		return &domain.Charge{}, nil
	}
	return h.processFn(job)
}

func (h *fakeHandler) OnCompleted(_ context.Context, _ *domain.Job, _ *domain.Charge, next *domain.ArmedJob) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, next)
	return h.completeErr
}

func (h *fakeHandler) OnFailed(_ context.Context, job *domain.Job, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, job.ID)
	h.causes = append(h.causes, cause)
	return nil
}

func testJob(id string, attempt, maxAttempts int) *domain.Job {
	return &domain.Job{
		ID:          id,
		SchedulerID: "sched-" + id,
		Payload:     domain.JobPayload{ReplenishmentID: "rp-" + id, CustomerID: "cust-1"},
		Status:      domain.JobRunning,
		RunAt:       time.Now().Add(-time.Second),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}
