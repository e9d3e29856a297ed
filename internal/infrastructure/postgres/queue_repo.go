package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/replenishment/internal/cadence"
	"github.com/ErlanBelekov/replenishment/internal/clock"
	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id, scheduler_id, payload, status, run_at, attempt, max_attempts,
	claimed_at, claimed_by, heartbeat_at, completed_at, last_error,
	created_at, updated_at`

// QueueRepository is a Postgres-backed repeatable job queue. It always runs on its own
// connections, never inside a caller's record-store transaction.
type QueueRepository struct {
	pool        *pgxpool.Pool
	clock       clock.Clock
	maxAttempts int
}

func NewQueueRepository(pool *pgxpool.Pool, clk clock.Clock, maxAttempts int) *QueueRepository {
	return &QueueRepository{pool: pool, clock: clk, maxAttempts: maxAttempts}
}

func (r *QueueRepository) UpsertSchedule(ctx context.Context, schedulerID string, opts domain.RepeatOptions, payload domain.JobPayload) (armed *domain.ArmedJob, err error) {
	if opts.Period <= 0 {
		return nil, fmt.Errorf("upsert schedule %s: non-positive period", schedulerID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_schedules (scheduler_id, replenishment_id, period_ms, end_date, repeat_limit, fired, payload)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (scheduler_id) DO UPDATE
		SET replenishment_id = EXCLUDED.replenishment_id,
		    period_ms        = EXCLUDED.period_ms,
		    end_date         = EXCLUDED.end_date,
		    repeat_limit     = EXCLUDED.repeat_limit,
		    fired            = 0,
		    payload          = EXCLUDED.payload,
		    updated_at       = NOW()`,
		schedulerID, payload.ReplenishmentID, opts.Period.Milliseconds(), opts.EndDate, opts.Limit, data,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert schedule %s: %w", schedulerID, err)
	}

	// Replacing a schedule supersedes whatever was waiting to fire.
	if _, err = tx.Exec(ctx,
		`DELETE FROM queue_jobs WHERE scheduler_id = $1 AND status = 'pending'`, schedulerID,
	); err != nil {
		return nil, fmt.Errorf("drop pending jobs %s: %w", schedulerID, err)
	}

	if exhausted(opts.FirstRun, opts.EndDate, opts.Limit, 0) {
		if _, err = tx.Exec(ctx, `DELETE FROM queue_schedules WHERE scheduler_id = $1`, schedulerID); err != nil {
			return nil, fmt.Errorf("drop exhausted schedule %s: %w", schedulerID, err)
		}
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return nil, nil
	}

	armed, err = insertJob(ctx, tx, schedulerID, data, opts.FirstRun, r.maxAttempts)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return armed, nil
}

func (r *QueueRepository) RemoveSchedule(ctx context.Context, schedulerID string) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Running deliveries are left alone: they finish and find no schedule to re-arm.
	if _, err = tx.Exec(ctx,
		`DELETE FROM queue_jobs WHERE scheduler_id = $1 AND status = 'pending'`, schedulerID,
	); err != nil {
		return fmt.Errorf("remove pending jobs %s: %w", schedulerID, err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM queue_schedules WHERE scheduler_id = $1`, schedulerID); err != nil {
		return fmt.Errorf("remove schedule %s: %w", schedulerID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *QueueRepository) CurrentJob(ctx context.Context, schedulerID string) (*domain.ArmedJob, error) {
	var a domain.ArmedJob
	err := r.pool.QueryRow(ctx, `
		SELECT id, scheduler_id, run_at
		FROM queue_jobs
		WHERE scheduler_id = $1 AND status IN ('pending', 'running')
		ORDER BY created_at DESC
		LIMIT 1`, schedulerID,
	).Scan(&a.ID, &a.SchedulerID, &a.RunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("current job %s: %w", schedulerID, err)
	}
	return &a, nil
}

func (r *QueueRepository) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error) {
	// FOR UPDATE SKIP LOCKED prevents double delivery across workers.
	query := `
		UPDATE queue_jobs
		SET    status       = 'running',
		       attempt      = attempt + 1,
		       claimed_at   = NOW(),
		       claimed_by   = $1,
		       heartbeat_at = NOW(),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE  status = 'pending'
			  AND  run_at <= NOW()
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	rows, err := r.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *QueueRepository) Heartbeat(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE queue_jobs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, jobID)
	return err
}

func (r *QueueRepository) Complete(ctx context.Context, jobID string) (next *domain.ArmedJob, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var schedulerID string
	var runAt time.Time
	// A reaped delivery may be back in pending by the time its original worker finishes.
	err = tx.QueryRow(ctx, `
		UPDATE queue_jobs
		SET    status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE  id = $1 AND status IN ('running', 'pending')
		RETURNING scheduler_id, run_at`, jobID,
	).Scan(&schedulerID, &runAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("complete job %s: %w", jobID, err)
	}

	var (
		periodMS int64
		endDate  *time.Time
		limit    *int
		fired    int
		payload  []byte
	)
	err = tx.QueryRow(ctx, `
		UPDATE queue_schedules
		SET    fired = fired + 1, updated_at = NOW()
		WHERE  scheduler_id = $1
		RETURNING period_ms, end_date, repeat_limit, fired, payload`, schedulerID,
	).Scan(&periodMS, &endDate, &limit, &fired, &payload)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("advance schedule %s: %w", schedulerID, err)
		}
		// Schedule removed while this delivery was running: nothing to re-arm.
		err = tx.Commit(ctx)
		if err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return nil, nil
	}

	// UpsertSchedule ran while this delivery was in flight and already armed the next trigger.
	// The schedule row lock taken above serializes this check with UpsertSchedule.
	armed, err := pendingJob(ctx, tx, schedulerID)
	if err != nil {
		return nil, err
	}
	if armed != nil {
		if limit != nil && fired >= *limit {
			if _, err = tx.Exec(ctx, `DELETE FROM queue_jobs WHERE scheduler_id = $1 AND status = 'pending'`, schedulerID); err != nil {
				return nil, fmt.Errorf("drop pending jobs %s: %w", schedulerID, err)
			}
			if _, err = tx.Exec(ctx, `DELETE FROM queue_schedules WHERE scheduler_id = $1`, schedulerID); err != nil {
				return nil, fmt.Errorf("drop exhausted schedule %s: %w", schedulerID, err)
			}
			armed = nil
		}
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return armed, nil
	}

	period := time.Duration(periodMS) * time.Millisecond
	nextRun := *cadence.NextPaymentDate(&runAt, period, r.clock.Now())

	if exhausted(nextRun, endDate, limit, fired) {
		if _, err = tx.Exec(ctx, `DELETE FROM queue_schedules WHERE scheduler_id = $1`, schedulerID); err != nil {
			return nil, fmt.Errorf("drop exhausted schedule %s: %w", schedulerID, err)
		}
	} else {
		next, err = insertJob(ctx, tx, schedulerID, payload, nextRun, r.maxAttempts)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

func (r *QueueRepository) Discard(ctx context.Context, jobID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE queue_jobs SET status = 'discarded', last_error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1`, jobID, reason)
	return err
}

func (r *QueueRepository) Retry(ctx context.Context, jobID, lastError string, retryAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE queue_jobs
		SET    status       = 'pending',
		       last_error   = $2,
		       run_at       = $3,
		       claimed_at   = NULL,
		       claimed_by   = NULL,
		       heartbeat_at = NULL,
		       updated_at   = NOW()
		WHERE id = $1 AND status = 'running'`, jobID, lastError, retryAt)
	return err
}

func (r *QueueRepository) Fail(ctx context.Context, jobID, lastError string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE queue_jobs SET status = 'failed', last_error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1`, jobID, lastError)
	return err
}

func (r *QueueRepository) RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_jobs
		SET    status       = 'pending',
		       last_error   = 'worker timeout',
		       claimed_at   = NULL,
		       claimed_by   = NULL,
		       heartbeat_at = NULL,
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  attempt      < max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit)
	return int(tag.RowsAffected()), err
}

func (r *QueueRepository) FailStale(ctx context.Context, staleCutoff time.Time, limit int) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE queue_jobs
		SET    status       = 'failed',
		       last_error   = 'worker timeout: max attempts exceeded',
		       completed_at = NOW(),
		       updated_at   = NOW()
		WHERE id IN (
			SELECT id FROM queue_jobs
			WHERE  status       = 'running'
			  AND  heartbeat_at < $1
			  AND  attempt      >= max_attempts
			ORDER BY heartbeat_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING`+jobColumns, staleCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// exhausted reports whether a schedule that already fired `fired` times has no firing at run.
func exhausted(run time.Time, endDate *time.Time, limit *int, fired int) bool {
	if limit != nil && fired >= *limit {
		return true
	}
	return endDate != nil && !run.Before(*endDate)
}

// pendingJob returns the trigger waiting to fire for schedulerID, nil when none.
func pendingJob(ctx context.Context, tx pgx.Tx, schedulerID string) (*domain.ArmedJob, error) {
	a := domain.ArmedJob{SchedulerID: schedulerID}
	err := tx.QueryRow(ctx, `
		SELECT id, run_at
		FROM   queue_jobs
		WHERE  scheduler_id = $1 AND status = 'pending'
		ORDER  BY run_at DESC
		LIMIT  1`, schedulerID,
	).Scan(&a.ID, &a.RunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pending job for %s: %w", schedulerID, err)
	}
	return &a, nil
}

func insertJob(ctx context.Context, tx pgx.Tx, schedulerID string, payload []byte, runAt time.Time, maxAttempts int) (*domain.ArmedJob, error) {
	a := domain.ArmedJob{SchedulerID: schedulerID}
	err := tx.QueryRow(ctx, `
		INSERT INTO queue_jobs (scheduler_id, payload, status, run_at, max_attempts)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING id, run_at`,
		schedulerID, payload, runAt, maxAttempts,
	).Scan(&a.ID, &a.RunAt)
	if err != nil {
		return nil, fmt.Errorf("arm job for %s: %w", schedulerID, err)
	}
	return &a, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var payload []byte
	err := row.Scan(
		&j.ID, &j.SchedulerID, &payload, &j.Status, &j.RunAt, &j.Attempt, &j.MaxAttempts,
		&j.ClaimedAt, &j.ClaimedBy, &j.HeartbeatAt, &j.CompletedAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return &j, nil
}
