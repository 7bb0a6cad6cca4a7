package domain

import (
	"context"
	"time"
)

// BookRepository persists books. Status updates only move forward.
type BookRepository interface {
	Get(ctx context.Context, id string) (*Book, error)
	CreateWithJob(ctx context.Context, book *Book, maxAttempts int) (*BookJob, error)
	MarkGenerating(ctx context.Context, id string) error
	SetCharacterSheet(ctx context.Context, id, path string) error
	SetTitle(ctx context.Context, id, title string) error
	SetCover(ctx context.Context, id, path string) error
	MarkPreviewReady(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
}

// JobRepository persists jobs and implements the conditional claim. Writes
// that take a claimed job only apply while that claim is current and return
// ErrClaimLost otherwise.
type JobRepository interface {
	ClaimNext(ctx context.Context) (*BookJob, error)
	Claim(ctx context.Context, id string) (*BookJob, error)
	Get(ctx context.Context, id string) (*BookJob, error)
	LatestForBook(ctx context.Context, bookID string) (*BookJob, error)
	AdvanceStep(ctx context.Context, job *BookJob, next JobStep) error
	Requeue(ctx context.Context, job *BookJob) error
	MarkCompleted(ctx context.Context, job *BookJob) error
	MarkFailed(ctx context.Context, job *BookJob, message string) error
	RequeueForRetry(ctx context.Context, job *BookJob, message string, delay time.Duration) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PageRepository persists book pages keyed by (book id, page number).
type PageRepository interface {
	Get(ctx context.Context, bookID string, pageNumber int) (*BookPage, error)
	UpsertText(ctx context.Context, page *BookPage) error
	SetIllustration(ctx context.Context, bookID string, pageNumber int, path string) error
}
