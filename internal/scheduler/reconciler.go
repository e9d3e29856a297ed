package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/metrics"
	"github.com/ErlanBelekov/replenishment/internal/repository"
	"github.com/robfig/cron/v3"
)

const reconcilePageSize = 200

// Drift kinds reported by the reconciler.
const (
	DriftMissingJob             = "missing_job"
	DriftJobMismatch            = "job_mismatch"
	DriftMissingPayload         = "missing_payload"
	DriftMissingNextPaymentDate = "missing_next_payment_date"
)

// Drift is one disagreement between a replenishment row and the queue or payload store.
type Drift struct {
	ReplenishmentID string
	Kind            string
	Detail          string
}

// Reconciler walks every scheduled or active replenishment on a cron spec and reports rows
// whose armed trigger or stored payload disagrees with the record store. It never repairs.
type Reconciler struct {
	replenishments repository.ReplenishmentRepository
	queue          repository.TriggerQueue
	payloads       repository.PayloadStore
	logger         *slog.Logger
	schedule       string
}

func NewReconciler(
	replenishments repository.ReplenishmentRepository,
	queue repository.TriggerQueue,
	payloads repository.PayloadStore,
	logger *slog.Logger,
	schedule string,
) *Reconciler {
	return &Reconciler{
		replenishments: replenishments,
		queue:          queue,
		payloads:       payloads,
		logger:         logger.With("component", "reconciler"),
		schedule:       schedule,
	}
}

// Start runs Sweep on the cron spec until ctx is canceled.
func (r *Reconciler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("reconcile sweep", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("parse reconcile schedule %q: %w", r.schedule, err)
	}

	r.logger.Info("reconciler started", "schedule", r.schedule)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reconciler shut down")
	return nil
}

// Sweep checks every armed row once and returns the drift found.
func (r *Reconciler) Sweep(ctx context.Context) ([]Drift, error) {
	start := time.Now()
	defer func() { metrics.ReconcileSweepDuration.Observe(time.Since(start).Seconds()) }()

	var (
		drifts  []Drift
		checked int
		afterID string
	)
	for {
		page, err := r.replenishments.ListArmed(ctx, afterID, reconcilePageSize)
		if err != nil {
			return drifts, fmt.Errorf("list armed: %w", err)
		}
		for _, rp := range page {
			found, err := r.check(ctx, rp)
			if err != nil {
				return drifts, err
			}
			drifts = append(drifts, found...)
		}
		checked += len(page)
		if len(page) < reconcilePageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	for _, d := range drifts {
		metrics.ReconcileDriftTotal.WithLabelValues(d.Kind).Inc()
		r.logger.WarnContext(ctx, "replenishment drift",
			"replenishment_id", d.ReplenishmentID, "kind", d.Kind, "detail", d.Detail)
	}
	r.logger.InfoContext(ctx, "reconcile sweep done", "checked", checked, "drift", len(drifts))
	return drifts, nil
}

func (r *Reconciler) check(ctx context.Context, rp *domain.Replenishment) ([]Drift, error) {
	var out []Drift
	report := func(kind, detail string) {
		out = append(out, Drift{ReplenishmentID: rp.ID, Kind: kind, Detail: detail})
	}

	if rp.NextPaymentDate == nil {
		report(DriftMissingNextPaymentDate, string(rp.Status))
	}

	job, err := r.queue.CurrentJob(ctx, rp.SchedulerID)
	if err != nil {
		return nil, fmt.Errorf("current job for %s: %w", rp.ID, err)
	}
	switch {
	case job == nil:
		report(DriftMissingJob, rp.SchedulerID)
	case rp.NextJobID == nil:
		report(DriftJobMismatch, "row has no job id, queue has "+job.ID)
	case *rp.NextJobID != job.ID:
		report(DriftJobMismatch, "row has "+*rp.NextJobID+", queue has "+job.ID)
	}

	if rp.NextJobID != nil {
		ok, err := r.payloads.Exists(ctx, *rp.NextJobID)
		if err != nil {
			return nil, fmt.Errorf("payload for %s: %w", rp.ID, err)
		}
		if !ok {
			report(DriftMissingPayload, *rp.NextJobID)
		}
	}
	return out, nil
}
