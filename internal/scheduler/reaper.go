package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/metrics"
	"github.com/ErlanBelekov/replenishment/internal/repository"
)

var errWorkerTimeout = errors.New("worker stopped heartbeating")

// Reaper recovers deliveries whose worker stopped heartbeating. Deliveries with attempts
// left go back to pending; the rest are failed and handed to the failure handler.
type Reaper struct {
	queue            repository.JobQueue
	handler          Handler
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
}

func NewReaper(queue repository.JobQueue, handler Handler, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Reaper {
	return &Reaper{
		queue:            queue,
		handler:          handler,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	staleCutoff := time.Now().Add(-r.heartbeatTimeout)

	rescheduled, err := r.queue.RescheduleStale(ctx, staleCutoff, 100)
	if err != nil {
		r.logger.Error("reschedule stale", "error", err)
	} else if rescheduled > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("rescheduled").Add(float64(rescheduled))
		r.logger.Warn("rescheduled stale deliveries", "count", rescheduled)
	}

	failed, err := r.queue.FailStale(ctx, staleCutoff, 100)
	if err != nil {
		r.logger.Error("fail stale", "error", err)
		return
	}
	if len(failed) == 0 {
		return
	}
	metrics.ReaperRescuedTotal.WithLabelValues("failed").Add(float64(len(failed)))
	r.logger.Warn("permanently failed stale deliveries", "count", len(failed))

	for _, job := range failed {
		if err := r.handler.OnFailed(ctx, job, errWorkerTimeout); err != nil {
			r.logger.Error("failure handler", "job_id", job.ID, "replenishment_id", job.Payload.ReplenishmentID, "error", err)
		}
	}
}
