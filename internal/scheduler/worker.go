package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	ctxlog "github.com/ErlanBelekov/replenishment/internal/log"
	"github.com/ErlanBelekov/replenishment/internal/metrics"
	"github.com/ErlanBelekov/replenishment/internal/repository"
)

// Handler executes one delivery of a replenishment trigger.
type Handler interface {
	Process(ctx context.Context, job *domain.Job) (*domain.Charge, error)
	OnCompleted(ctx context.Context, job *domain.Job, charge *domain.Charge, next *domain.ArmedJob) error
	OnFailed(ctx context.Context, job *domain.Job, cause error) error
}

type Worker struct {
	id                string
	queue             repository.JobQueue
	handler           Handler
	logger            *slog.Logger
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	retryBase         time.Duration
	concurrency       int
	sem               chan struct{}
}

func NewWorker(
	queue repository.JobQueue,
	handler Handler,
	logger *slog.Logger,
	pollInterval time.Duration,
	retryBase time.Duration,
	concurrency int,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:                id,
		queue:             queue,
		handler:           handler,
		logger:            logger.With("component", "worker", "worker_id", id),
		pollInterval:      pollInterval,
		heartbeatInterval: 10 * time.Second,
		retryBase:         retryBase,
		concurrency:       concurrency,
		sem:               make(chan struct{}, concurrency),
	}
}

func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency)

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	jobs, err := w.queue.Claim(ctx, w.id, available)
	if err != nil {
		w.logger.Error("claim jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Info("claimed jobs", "count", len(jobs), "slots_used", len(w.sem)+len(jobs), "slots_total", cap(w.sem))

	for _, job := range jobs {
		w.sem <- struct{}{}
		go func(j *domain.Job) {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()
			defer func() { <-w.sem }()
			w.runJob(ctx, j)
		}(job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.Job) {
	metrics.TriggerPickupLatency.Observe(time.Since(job.RunAt).Seconds())

	ctx = ctxlog.WithJobID(ctx, job.ID)
	logger := w.logger.With("replenishment_id", job.Payload.ReplenishmentID, "scheduler_id", job.SchedulerID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, job.ID)

	logger.InfoContext(ctx, "executing trigger", "attempt", job.Attempt, "max_attempts", job.MaxAttempts)

	startedAt := time.Now()
	charge, err := w.handler.Process(ctx, job)
	duration := time.Since(startedAt)

	switch {
	case errors.Is(err, domain.ErrSkipExecution):
		metrics.ChargeDuration.WithLabelValues("skipped").Observe(duration.Seconds())
		metrics.ExecutionsTotal.WithLabelValues("skipped").Inc()
		if dErr := w.queue.Discard(ctx, job.ID, err.Error()); dErr != nil {
			logger.ErrorContext(ctx, "discard job", "error", dErr)
		}
		logger.InfoContext(ctx, "trigger discarded", "reason", err)

	case err != nil:
		metrics.ChargeDuration.WithLabelValues("failure").Observe(duration.Seconds())
		w.handleFailure(ctx, logger, job, err)

	default:
		metrics.ChargeDuration.WithLabelValues("success").Observe(duration.Seconds())
		w.handleSuccess(ctx, logger, job, charge)
	}
}

func (w *Worker) handleSuccess(ctx context.Context, logger *slog.Logger, job *domain.Job, charge *domain.Charge) {
	next, err := w.queue.Complete(ctx, job.ID)
	if err != nil {
		// The job stays running; the reaper redelivers it and the idempotency key
		// keeps the provider from charging twice.
		metrics.ExecutionsTotal.WithLabelValues("reconcile_required").Inc()
		logger.ErrorContext(ctx, "complete job after successful charge",
			"error", errors.Join(domain.ErrReconciliationRequired, err))
		return
	}

	if err := w.handler.OnCompleted(ctx, job, charge, next); err != nil {
		metrics.ExecutionsTotal.WithLabelValues("reconcile_required").Inc()
		return
	}

	metrics.ExecutionsTotal.WithLabelValues("success").Inc()
	attrs := []any{"amount", charge.Amount.StringFixed(2)}
	if next != nil {
		attrs = append(attrs, "next_job_id", next.ID, "next_run_at", next.RunAt)
	}
	logger.InfoContext(ctx, "trigger completed", attrs...)
}

func (w *Worker) handleFailure(ctx context.Context, logger *slog.Logger, job *domain.Job, cause error) {
	errMsg := cause.Error()

	if !job.Exhausted() {
		retryAt := time.Now().Add(retryDelay(w.retryBase, job.Attempt))
		if err := w.queue.Retry(ctx, job.ID, errMsg, retryAt); err != nil {
			logger.ErrorContext(ctx, "reschedule job", "error", err)
		}
		metrics.ExecutionsTotal.WithLabelValues("retry").Inc()
		logger.WarnContext(ctx, "trigger failed, will retry",
			"error", errMsg,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"retry_at", retryAt,
		)
		return
	}

	if err := w.queue.Fail(ctx, job.ID, errMsg); err != nil {
		logger.ErrorContext(ctx, "mark job failed", "error", err)
	}
	metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	logger.WarnContext(ctx, "trigger permanently failed", "error", errMsg, "attempts", job.Attempt)

	if err := w.handler.OnFailed(ctx, job, cause); err != nil {
		logger.ErrorContext(ctx, "failure handler", "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// retryDelay backs off exponentially from base per attempt with ±25% jitter, capped at an hour.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(2, float64(max(attempt-1, 0))))
	delay = min(delay, time.Hour)
	if delay/2 <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Int64N(int64(delay/2))) - delay/4
	return delay + jitter
}
