package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/cadence"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/ErlanBelekov/replenishment/internal/idgen"
	"github.com/ErlanBelekov/replenishment/internal/repository"
)

// ReplenishmentUsecase keeps the record store, the job queue and the payload store consistent
// across create, update, cancel/resume and remove.
type ReplenishmentUsecase struct {
	customers      repository.CustomerRepository
	replenishments repository.ReplenishmentRepository
	queue          repository.TriggerQueue
	payloads       repository.PayloadStore
	tx             repository.Transactor
	ids            idgen.Generator
	clock          clock.Clock
	logger         *slog.Logger
}

func NewReplenishmentUsecase(
	customers repository.CustomerRepository,
	replenishments repository.ReplenishmentRepository,
	queue repository.TriggerQueue,
	payloads repository.PayloadStore,
	tx repository.Transactor,
	ids idgen.Generator,
	clk clock.Clock,
	logger *slog.Logger,
) *ReplenishmentUsecase {
	return &ReplenishmentUsecase{
		customers:      customers,
		replenishments: replenishments,
		queue:          queue,
		payloads:       payloads,
		tx:             tx,
		ids:            ids,
		clock:          clk,
		logger:         logger.With("component", "replenishment_usecase"),
	}
}

type CreateReplenishmentInput struct {
	CustomerID string
	Order      domain.OrderPayload
	Interval   int
	Unit       domain.Unit
	Starting   *time.Time
	Expiry     *time.Time
	Times      *int
}

type UpdateReplenishmentInput struct {
	Interval int
	Unit     domain.Unit
	Starting *time.Time
	Expiry   *time.Time
	Times    *int
}

func (u *ReplenishmentUsecase) Create(ctx context.Context, input CreateReplenishmentInput) (*domain.Replenishment, error) {
	if !cadence.Valid(input.Interval, input.Unit) {
		return nil, domain.ErrInvalidCadence
	}
	if err := input.Order.Validate(); err != nil {
		return nil, err
	}
	if input.Times != nil && *input.Times < 1 {
		return nil, fmt.Errorf("%w: times must be at least 1", domain.ErrInvalidSchedule)
	}

	now := u.clock.Now()
	start := now
	if input.Starting != nil {
		start = *input.Starting
	}
	status := domain.StatusActive
	if start.After(now) {
		status = domain.StatusScheduled
	}

	period := cadence.Period(input.Interval, input.Unit)
	firstRun := cadence.FirstRun(start, period, now)
	if input.Expiry != nil && !input.Expiry.After(firstRun) {
		return nil, fmt.Errorf("%w: expiry must be after the first charge", domain.ErrInvalidSchedule)
	}

	if _, err := u.customers.FindByID(ctx, input.CustomerID); err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}

	rp, err := u.replenishments.Create(ctx, &domain.Replenishment{
		SchedulerID: u.ids.NewID(),
		CustomerID:  input.CustomerID,
		Unit:        input.Unit,
		Interval:    input.Interval,
		StartDate:   start,
		EndDate:     input.Expiry,
		Times:       input.Times,
		Status:      status,
	})
	if err != nil {
		return nil, fmt.Errorf("create replenishment: %w", err)
	}

	// The row stays behind without a job id on failure; the reconciler reports it.
	armed, err := u.arm(ctx, rp, input.Order, firstRun, input.Times)
	if err != nil {
		u.logger.ErrorContext(ctx, "failed to arm trigger", "replenishment_id", rp.ID, "error", err)
		return nil, err
	}
	if armed == nil {
		u.logger.ErrorContext(ctx, "queue armed nothing", "replenishment_id", rp.ID)
		return nil, fmt.Errorf("%w: queue returned no job", domain.ErrScheduling)
	}

	if err := u.payloads.Put(ctx, armed.ID, input.Order); err != nil {
		if rmErr := u.queue.RemoveSchedule(ctx, rp.SchedulerID); rmErr != nil {
			u.logger.ErrorContext(ctx, "failed to disarm after payload write failure",
				"replenishment_id", rp.ID, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: store payload: %w", domain.ErrScheduling, err)
	}

	rp.NextJobID = &armed.ID
	rp.NextPaymentDate = &armed.RunAt
	if err := u.replenishments.Update(ctx, rp); err != nil {
		return nil, fmt.Errorf("record armed trigger: %w", err)
	}

	u.logger.InfoContext(ctx, "replenishment created",
		"replenishment_id", rp.ID,
		"scheduler_id", rp.SchedulerID,
		"status", rp.Status,
		"next_payment_date", armed.RunAt,
	)
	return rp, nil
}

func (u *ReplenishmentUsecase) GetByID(ctx context.Context, customerID, id string) (*domain.Replenishment, error) {
	rp, err := u.replenishments.GetByID(ctx, id, customerID)
	if err != nil {
		return nil, fmt.Errorf("get replenishment: %w", err)
	}
	return rp, nil
}

func (u *ReplenishmentUsecase) ListForCustomer(ctx context.Context, customerID string) ([]*domain.Replenishment, int, error) {
	items, total, err := u.replenishments.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, 0, fmt.Errorf("list replenishments: %w", err)
	}
	return items, total, nil
}

func (u *ReplenishmentUsecase) Update(ctx context.Context, customerID, id string, input UpdateReplenishmentInput) (*domain.Replenishment, error) {
	if !cadence.Valid(input.Interval, input.Unit) {
		return nil, domain.ErrInvalidCadence
	}
	if input.Times != nil && *input.Times < 1 {
		return nil, fmt.Errorf("%w: times must be at least 1", domain.ErrInvalidSchedule)
	}

	var stale string
	err := u.tx.WithinTx(ctx, func(ctx context.Context) error {
		rp, err := u.lockOwned(ctx, customerID, id)
		if err != nil {
			return err
		}
		if err := rp.Status.Can(domain.ActionUpdate); err != nil {
			return err
		}
		switch rp.Status {
		case domain.StatusScheduled:
			if input.Starting == nil {
				return domain.ErrStartingRequired
			}
		case domain.StatusActive:
			if input.Starting != nil {
				return domain.ErrStartingNotAllowed
			}
		}

		order, err := u.storedPayload(ctx, rp)
		if err != nil {
			return err
		}
		paid, err := u.replenishments.CountPayments(ctx, rp.ID)
		if err != nil {
			return err
		}

		now := u.clock.Now()
		if input.Starting != nil {
			rp.StartDate = *input.Starting
			rp.Status = domain.StatusActive
			if rp.StartDate.After(now) {
				rp.Status = domain.StatusScheduled
			}
		}
		rp.Unit = input.Unit
		rp.Interval = input.Interval
		if input.Expiry != nil {
			rp.EndDate = input.Expiry
		}
		if input.Times != nil {
			times := max(*input.Times, paid)
			rp.Times = &times
		}
		rp.Executions = paid

		next := cadence.Upcoming(rp.LastPaymentDate, rp.StartDate, cadence.Period(rp.Interval, rp.Unit), now)
		stale, err = u.rearm(ctx, rp, *order, next, remaining(rp.Times, paid))
		if err != nil {
			return err
		}
		return u.replenishments.Update(ctx, rp)
	})
	if err != nil {
		return nil, fmt.Errorf("update replenishment: %w", err)
	}

	u.dropPayload(ctx, id, stale)
	return u.GetByID(ctx, customerID, id)
}

// Toggle cancels a live replenishment or resumes a canceled one.
func (u *ReplenishmentUsecase) Toggle(ctx context.Context, customerID, id string) (*domain.Replenishment, error) {
	var stale string
	err := u.tx.WithinTx(ctx, func(ctx context.Context) error {
		rp, err := u.lockOwned(ctx, customerID, id)
		if err != nil {
			return err
		}

		switch {
		case rp.Status.Can(domain.ActionCancel) == nil:
			if err := u.queue.RemoveSchedule(ctx, rp.SchedulerID); err != nil {
				return fmt.Errorf("%w: remove trigger: %w", domain.ErrScheduling, err)
			}
			// Payload and job id stay: they are all resume has to rebuild the trigger from.
			rp.Status = domain.StatusCanceled
			rp.NextPaymentDate = nil

		case rp.Status.Can(domain.ActionResume) == nil:
			order, err := u.storedPayload(ctx, rp)
			if err != nil {
				return err
			}
			paid, err := u.replenishments.CountPayments(ctx, rp.ID)
			if err != nil {
				return err
			}

			now := u.clock.Now()
			rp.Status = domain.StatusActive
			if rp.StartDate.After(now) {
				rp.Status = domain.StatusScheduled
			}
			next := cadence.Upcoming(rp.LastPaymentDate, rp.StartDate, cadence.Period(rp.Interval, rp.Unit), now)
			stale, err = u.rearm(ctx, rp, *order, next, remaining(rp.Times, paid))
			if err != nil {
				return err
			}

		default:
			return rp.Status.Can(domain.ActionCancel)
		}

		return u.replenishments.Update(ctx, rp)
	})
	if err != nil {
		return nil, fmt.Errorf("toggle replenishment: %w", err)
	}

	u.dropPayload(ctx, id, stale)
	return u.GetByID(ctx, customerID, id)
}

func (u *ReplenishmentUsecase) Remove(ctx context.Context, customerID, id string) error {
	var stale string
	err := u.tx.WithinTx(ctx, func(ctx context.Context) error {
		rp, err := u.lockOwned(ctx, customerID, id)
		if err != nil {
			return err
		}
		if err := rp.Status.Can(domain.ActionRemove); err != nil {
			return err
		}
		if err := u.queue.RemoveSchedule(ctx, rp.SchedulerID); err != nil {
			return fmt.Errorf("%w: remove trigger: %w", domain.ErrScheduling, err)
		}
		if rp.NextJobID != nil {
			stale = *rp.NextJobID
		}
		return u.replenishments.SoftDelete(ctx, rp.ID)
	})
	if err != nil {
		return fmt.Errorf("remove replenishment: %w", err)
	}

	u.dropPayload(ctx, id, stale)
	u.logger.InfoContext(ctx, "replenishment removed", "replenishment_id", id)
	return nil
}

// lockOwned loads and locks the row, hiding rows owned by someone else.
func (u *ReplenishmentUsecase) lockOwned(ctx context.Context, customerID, id string) (*domain.Replenishment, error) {
	rp, err := u.replenishments.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if rp.CustomerID != customerID {
		return nil, domain.ErrReplenishmentNotFound
	}
	return rp, nil
}

func (u *ReplenishmentUsecase) storedPayload(ctx context.Context, rp *domain.Replenishment) (*domain.OrderPayload, error) {
	if rp.NextJobID == nil {
		return nil, domain.ErrPayloadNotFound
	}
	return u.payloads.Get(ctx, *rp.NextJobID)
}

// rearm replaces the trigger for rp so it next fires at next, or finishes rp when the
// remaining budget or the end date leaves nothing to fire. It returns the payload key
// that became stale and must be deleted once the row is committed.
func (u *ReplenishmentUsecase) rearm(ctx context.Context, rp *domain.Replenishment, order domain.OrderPayload, next time.Time, left *int) (string, error) {
	var old string
	if rp.NextJobID != nil {
		old = *rp.NextJobID
	}

	var armed *domain.ArmedJob
	if !spent(left) && (rp.EndDate == nil || next.Before(*rp.EndDate)) {
		var err error
		if armed, err = u.arm(ctx, rp, order, next, left); err != nil {
			return "", err
		}
	}

	if armed == nil {
		if err := u.queue.RemoveSchedule(ctx, rp.SchedulerID); err != nil {
			return "", fmt.Errorf("%w: remove trigger: %w", domain.ErrScheduling, err)
		}
		rp.Status = domain.StatusFinished
		rp.NextPaymentDate = nil
		rp.NextJobID = nil
		return old, nil
	}

	if err := u.payloads.Put(ctx, armed.ID, order); err != nil {
		return "", fmt.Errorf("%w: store payload: %w", domain.ErrScheduling, err)
	}
	rp.NextJobID = &armed.ID
	rp.NextPaymentDate = &armed.RunAt
	if old == armed.ID {
		return "", nil
	}
	return old, nil
}

func (u *ReplenishmentUsecase) arm(ctx context.Context, rp *domain.Replenishment, order domain.OrderPayload, firstRun time.Time, limit *int) (*domain.ArmedJob, error) {
	period := cadence.Period(rp.Interval, rp.Unit)
	armed, err := u.queue.UpsertSchedule(ctx, rp.SchedulerID,
		domain.RepeatOptions{
			Period:   period,
			FirstRun: firstRun,
			EndDate:  rp.EndDate,
			Limit:    limit,
		},
		domain.JobPayload{
			ReplenishmentID: rp.ID,
			CustomerID:      rp.CustomerID,
			PeriodMillis:    period.Milliseconds(),
			Order:           order,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrScheduling, err)
	}
	return armed, nil
}

func (u *ReplenishmentUsecase) dropPayload(ctx context.Context, replenishmentID, key string) {
	if key == "" {
		return
	}
	if err := u.payloads.Delete(ctx, key); err != nil && !errors.Is(err, domain.ErrPayloadNotFound) {
		u.logger.WarnContext(ctx, "failed to delete stale payload",
			"replenishment_id", replenishmentID, "key", key, "error", err)
	}
}

// remaining is the occurrence budget left, nil when the schedule is unbounded.
func remaining(times *int, paid int) *int {
	if times == nil {
		return nil
	}
	left := max(*times-paid, 0)
	return &left
}

func spent(left *int) bool {
	return left != nil && *left <= 0
}
