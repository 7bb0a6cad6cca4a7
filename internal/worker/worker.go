// Package worker runs the job processor in a loop: continue a job while it
// has steps left, otherwise wait for a notification or the poll interval.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/pipeline"
	"github.com/tkendall99/bedtime-solved/internal/queue"
)

// JobProcessor is the part of pipeline.Processor the loop drives.
type JobProcessor interface {
	ProcessNext(ctx context.Context) (pipeline.ProcessResult, error)
	ProcessJob(ctx context.Context, jobID string) (pipeline.ProcessResult, error)
}

// Reclaimer returns jobs stuck in processing to the queue.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Options struct {
	Processor    JobProcessor
	Reclaimer    Reclaimer
	Notifier     queue.Notifier
	PollInterval time.Duration
	StaleAfter   time.Duration
	Concurrency  int
	Logger       *zerolog.Logger
}

type Worker struct {
	proc        JobProcessor
	reclaimer   Reclaimer
	notifier    queue.Notifier
	poll        time.Duration
	staleAfter  time.Duration
	concurrency int
	logger      zerolog.Logger
}

func New(opts Options) *Worker {
	w := &Worker{
		proc:        opts.Processor,
		reclaimer:   opts.Reclaimer,
		notifier:    opts.Notifier,
		poll:        opts.PollInterval,
		staleAfter:  opts.StaleAfter,
		concurrency: opts.Concurrency,
		logger:      infra.LoggerOrNop(opts.Logger),
	}
	if w.notifier == nil {
		w.notifier = queue.Nop{}
	}
	if w.poll <= 0 {
		w.poll = 2 * time.Second
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.concurrency).Dur("poll", w.poll).Msg("worker: started")

	var wg sync.WaitGroup
	if w.reclaimer != nil && w.staleAfter > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.reclaimLoop(ctx)
		}()
	}
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, w.logger.With().Int("lane", n).Logger())
		}(i + 1)
	}
	wg.Wait()
	w.logger.Info().Msg("worker: stopped")
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context, log zerolog.Logger) {
	var next string
	for ctx.Err() == nil {
		var (
			res pipeline.ProcessResult
			err error
		)
		hinted := next != ""
		if hinted {
			res, err = w.proc.ProcessJob(ctx, next)
		} else {
			res, err = w.proc.ProcessNext(ctx)
		}
		next = ""

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("worker: process failed")
			sleep(ctx, w.poll)
		case res.Processed && res.HasMore && res.Error == "":
			next = res.JobID
		case res.Processed && res.HasMore:
			// Failed attempt; the job is backing off and the queue decides
			// when it is claimable again.
		case res.Processed:
			// Job finished; look for more work straight away.
		case hinted:
			// Someone else holds the hinted job; fall back to the queue head.
		default:
			id, err := w.notifier.Wait(ctx, w.poll)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("worker: wait for notification failed")
				sleep(ctx, w.poll)
				continue
			}
			next = id
		}
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	interval := w.staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.reclaimer.ReclaimStale(ctx, w.staleAfter)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.logger.Error().Err(err).Msg("worker: reclaim stale jobs failed")
				}
				continue
			}
			if n > 0 {
				w.logger.Warn().Int64("count", n).Msg("worker: requeued stale jobs")
			}
		}
	}
}

// Drain processes jobs until the queue is empty and returns how many
// invocations ran a step.
func Drain(ctx context.Context, proc JobProcessor, onResult func(pipeline.ProcessResult)) (int, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		res, err := proc.ProcessNext(ctx)
		if err != nil {
			return steps, err
		}
		if !res.Processed {
			return steps, nil
		}
		steps++
		if onResult != nil {
			onResult(res)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
