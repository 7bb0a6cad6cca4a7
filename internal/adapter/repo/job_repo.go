package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository over the given executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// ClaimNext claims the oldest queued job. It returns nil, nil when the queue
// is empty or another worker claimed the candidate first.
func (r *JobRepositoryPG) ClaimNext(ctx context.Context) (*domain.BookJob, error) {
	var id string
	if err := r.sql.QueryRow(ctx, sqlinline.QJobSelectNextQueued).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next queued job: %w", err)
	}
	return r.Claim(ctx, id)
}

// Claim moves a specific job from queued to processing and counts the
// attempt. It returns nil, nil when the job is not queued.
func (r *JobRepositoryPG) Claim(ctx context.Context, id string) (*domain.BookJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QJobClaim, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job %s: %w", id, err)
	}
	return job, nil
}

func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.BookJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QJobSelectByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (r *JobRepositoryPG) LatestForBook(ctx context.Context, bookID string) (*domain.BookJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QJobSelectLatestForBook, bookID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("latest job for book %s: %w", bookID, err)
	}
	return job, nil
}

// AdvanceStep moves the step pointer and resets attempts without touching status.
func (r *JobRepositoryPG) AdvanceStep(ctx context.Context, job *domain.BookJob, next domain.JobStep) error {
	return execClaimed(ctx, r.sql, sqlinline.QJobAdvanceStep, job.ID, string(next), job.ClaimedAt())
}

func (r *JobRepositoryPG) Requeue(ctx context.Context, job *domain.BookJob) error {
	return execClaimed(ctx, r.sql, sqlinline.QJobRequeue, job.ID, job.ClaimedAt())
}

func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, job *domain.BookJob) error {
	return execClaimed(ctx, r.sql, sqlinline.QJobMarkCompleted, job.ID, job.ClaimedAt())
}

func (r *JobRepositoryPG) MarkFailed(ctx context.Context, job *domain.BookJob, message string) error {
	return execClaimed(ctx, r.sql, sqlinline.QJobMarkFailed, job.ID, message, job.ClaimedAt())
}

// RequeueForRetry returns the job to the queue at its current step. Neither
// claim path picks it up again before delay has passed.
func (r *JobRepositoryPG) RequeueForRetry(ctx context.Context, job *domain.BookJob, message string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return execClaimed(ctx, r.sql, sqlinline.QJobRequeueForRetry, job.ID, message, delay.Seconds(), job.ClaimedAt())
}

// ReclaimStale requeues processing jobs claimed longer ago than olderThan.
func (r *JobRepositoryPG) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QJobReclaimStale, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*domain.BookJob, error) {
	var (
		job          domain.BookJob
		status, step string
	)
	if err := row.Scan(
		&job.ID,
		&job.BookID,
		&status,
		&step,
		&job.ErrorMessage,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Step = domain.JobStep(step)
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
