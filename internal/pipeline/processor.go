// Package pipeline advances book jobs one generation step per invocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/storage"
)

// FailureMessage is shown to the parent when a book cannot be generated. The
// technical cause stays on the job record.
const FailureMessage = "We couldn't finish your preview. Please try again."

// DefaultStepTimeout bounds one step including its provider retries.
const DefaultStepTimeout = 10 * time.Minute

// DefaultRetryBackoff is the hold on a job after its first failed attempt.
// It doubles per attempt up to maxRetryBackoff.
const DefaultRetryBackoff = 10 * time.Second

const maxRetryBackoff = 5 * time.Minute

// Options wires a Processor. All fields except Logger, StepTimeout and
// RetryBackoff are required.
type Options struct {
	Books        domain.BookRepository
	Jobs         domain.JobRepository
	Pages        domain.PageRepository
	Store        storage.Store
	Text         providers.TextGenerator
	Image        providers.ImageGenerator
	Logger       *zerolog.Logger
	StepTimeout  time.Duration
	RetryBackoff time.Duration
}

// Processor claims a job and runs the single step its pointer names.
type Processor struct {
	books       domain.BookRepository
	jobs        domain.JobRepository
	pages       domain.PageRepository
	store       storage.Store
	text        providers.TextGenerator
	image       providers.ImageGenerator
	logger      zerolog.Logger
	stepTimeout time.Duration
	backoff     time.Duration
	steps       map[domain.JobStep]stepFunc
}

func NewProcessor(opts Options) (*Processor, error) {
	switch {
	case opts.Books == nil, opts.Jobs == nil, opts.Pages == nil:
		return nil, errors.New("pipeline: repositories are required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case opts.Text == nil, opts.Image == nil:
		return nil, errors.New("pipeline: text and image generators are required")
	}
	timeout := opts.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	p := &Processor{
		books:       opts.Books,
		jobs:        opts.Jobs,
		pages:       opts.Pages,
		store:       opts.Store,
		text:        opts.Text,
		image:       opts.Image,
		logger:      infra.LoggerOrNop(opts.Logger),
		stepTimeout: timeout,
		backoff:     backoff,
	}
	p.steps = p.stepTable()
	return p, nil
}

// ProcessResult describes one invocation. Processed is false when there was
// nothing to claim. Error carries a step failure; the invocation itself still
// succeeded. HasMore is set when the job went back to the queue. ClaimLost
// is set when the job was reclaimed mid-step and this invocation's writes
// were discarded.
type ProcessResult struct {
	Processed bool             `json:"processed"`
	JobID     string           `json:"jobId,omitempty"`
	BookID    string           `json:"bookId,omitempty"`
	Step      domain.JobStep   `json:"step,omitempty"`
	NextStep  domain.JobStep   `json:"nextStep,omitempty"`
	JobStatus domain.JobStatus `json:"jobStatus,omitempty"`
	Error     string           `json:"error,omitempty"`
	HasMore   bool             `json:"hasMore"`
	ClaimLost bool             `json:"claimLost,omitempty"`
}

// ProcessNext claims the oldest queued job and runs its current step. The
// returned error is reserved for failures of the processor itself.
func (p *Processor) ProcessNext(ctx context.Context) (ProcessResult, error) {
	job, err := p.jobs.ClaimNext(ctx)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return ProcessResult{}, nil
	}
	return p.run(ctx, job)
}

// ProcessJob claims a specific job. A job that is not queued, including one
// another worker already holds, yields Processed=false.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) (ProcessResult, error) {
	job, err := p.jobs.Claim(ctx, jobID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if job == nil {
		return ProcessResult{}, nil
	}
	return p.run(ctx, job)
}

func (p *Processor) run(ctx context.Context, job *domain.BookJob) (ProcessResult, error) {
	res, err := p.execute(ctx, job)
	if errors.Is(err, domain.ErrClaimLost) {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Str("step", string(job.Step)).
			Msg("pipeline: claim went stale, leaving the job to its current owner")
		res.JobStatus, res.NextStep, res.HasMore, res.ClaimLost = "", "", false, true
		return res, nil
	}
	return res, err
}

func (p *Processor) execute(ctx context.Context, job *domain.BookJob) (ProcessResult, error) {
	log := p.logger.With().
		Str("job_id", job.ID).
		Str("book_id", job.BookID).
		Str("step", string(job.Step)).
		Int("attempt", job.Attempts).
		Logger()
	res := ProcessResult{Processed: true, JobID: job.ID, BookID: job.BookID, Step: job.Step}

	book, err := p.books.Get(ctx, job.BookID)
	if errors.Is(err, domain.ErrNotFound) {
		cause := fmt.Errorf("%w: %s", domain.ErrBookMissing, job.BookID)
		log.Error().Err(cause).Msg("pipeline: job references a missing book")
		res.Error = cause.Error()
		if err := p.jobs.MarkFailed(ctx, job, cause.Error()); err != nil {
			return res, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		res.JobStatus = domain.JobStatusFailed
		return res, nil
	}
	if err != nil {
		// The claim stays in processing; stale reclaim returns it to the queue.
		return res, fmt.Errorf("load book %s: %w", job.BookID, err)
	}

	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		return p.fail(ctx, log, job, res, Permanent(fmt.Errorf("step %s exceeded %d attempts", job.Step, job.MaxAttempts)))
	}

	if !book.Status.Terminal() {
		if err := p.books.MarkGenerating(ctx, book.ID); err != nil {
			return res, fmt.Errorf("mark book %s generating: %w", book.ID, err)
		}
	}

	if job.Step == domain.StepComplete {
		return p.finalize(ctx, log, job, res)
	}
	step, ok := p.steps[job.Step]
	if !ok {
		return p.fail(ctx, log, job, res, Permanent(fmt.Errorf("unknown step %q", job.Step)))
	}

	started := time.Now()
	log.Info().Msg("pipeline: running step")
	stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	err = step(stepCtx, book)
	cancel()
	if err != nil {
		return p.fail(ctx, log, job, res, err)
	}

	next := job.Step.Next()
	if err := p.jobs.AdvanceStep(ctx, job, next); err != nil {
		return res, fmt.Errorf("advance job %s to %s: %w", job.ID, next, err)
	}
	res.NextStep = next
	log.Info().Dur("duration", time.Since(started)).Str("next_step", string(next)).Msg("pipeline: step finished")

	if next == domain.StepComplete {
		return p.finalize(ctx, log, job, res)
	}
	if err := p.jobs.Requeue(ctx, job); err != nil {
		return res, fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	res.JobStatus = domain.JobStatusQueued
	res.HasMore = true
	return res, nil
}

func (p *Processor) finalize(ctx context.Context, log zerolog.Logger, job *domain.BookJob, res ProcessResult) (ProcessResult, error) {
	if err := p.books.MarkPreviewReady(ctx, job.BookID); err != nil {
		return res, fmt.Errorf("mark book %s preview ready: %w", job.BookID, err)
	}
	if err := p.jobs.MarkCompleted(ctx, job); err != nil {
		return res, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	res.NextStep = domain.StepComplete
	res.JobStatus = domain.JobStatusCompleted
	log.Info().Msg("pipeline: preview ready")
	return res, nil
}

// fail records a step failure. Retryable failures go back to the queue at the
// same step while attempts remain.
func (p *Processor) fail(ctx context.Context, log zerolog.Logger, job *domain.BookJob, res ProcessResult, cause error) (ProcessResult, error) {
	res.Error = cause.Error()
	permanent := IsPermanent(cause)

	if !permanent && job.AttemptsRemaining() {
		delay := p.retryDelay(job.Attempts)
		log.Warn().Err(cause).Int("max_attempts", job.MaxAttempts).Dur("retry_in", delay).Msg("pipeline: step failed, will retry")
		if err := p.jobs.RequeueForRetry(ctx, job, cause.Error(), delay); err != nil {
			return res, fmt.Errorf("requeue job %s for retry: %w", job.ID, err)
		}
		res.JobStatus = domain.JobStatusQueued
		res.HasMore = true
		return res, nil
	}

	log.Error().Err(cause).Bool("permanent", permanent).Msg("pipeline: job failed")
	if err := p.jobs.MarkFailed(ctx, job, cause.Error()); err != nil {
		return res, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if err := p.books.MarkFailed(ctx, job.BookID, FailureMessage); err != nil {
		return res, fmt.Errorf("fail book %s: %w", job.BookID, err)
	}
	res.JobStatus = domain.JobStatusFailed
	return res, nil
}

// retryDelay is the backoff after the given failed attempt of a step.
func (p *Processor) retryDelay(attempt int) time.Duration {
	delay := p.backoff
	for i := 1; i < attempt && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > maxRetryBackoff {
		delay = maxRetryBackoff
	}
	return delay
}
