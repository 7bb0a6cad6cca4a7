package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/sqlinline"
)

// BookRepositoryPG implements domain.BookRepository.
type BookRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewBookRepository(sql infra.SQLExecutor) *BookRepositoryPG {
	return &BookRepositoryPG{sql: sql}
}

func (r *BookRepositoryPG) Get(ctx context.Context, id string) (*domain.Book, error) {
	var (
		book                  domain.Book
		ageBand, tone, status string
	)
	err := r.sql.QueryRow(ctx, sqlinline.QBookSelectByID, id).Scan(
		&book.ID,
		&book.ChildName,
		&ageBand,
		&book.Interests,
		&tone,
		&book.MoralLesson,
		&book.SourcePhotoPath,
		&book.CharacterSheetPath,
		&book.CoverImagePath,
		&book.Title,
		&status,
		&book.ErrorMessage,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	book.AgeBand = domain.AgeBand(ageBand)
	book.Tone = domain.Tone(tone)
	book.Status = domain.BookStatus(status)
	return &book, nil
}

// CreateWithJob inserts the book in draft and its first queued job. An empty
// book ID is filled with a fresh UUID.
func (r *BookRepositoryPG) CreateWithJob(ctx context.Context, book *domain.Book, maxAttempts int) (*domain.BookJob, error) {
	if book == nil {
		return nil, fmt.Errorf("%w: book is required", domain.ErrInvalidArgument)
	}
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if maxAttempts < 1 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QBookInsertWithJob,
		book.ID,
		book.ChildName,
		string(book.AgeBand),
		book.Interests,
		string(book.Tone),
		book.MoralLesson,
		book.SourcePhotoPath,
		maxAttempts,
	))
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: book %s already exists", domain.ErrConflict, book.ID)
		}
		return nil, fmt.Errorf("insert book %s: %w", book.ID, err)
	}
	book.Status = domain.BookStatusDraft
	return job, nil
}

// MarkGenerating is a no-op for books already past generating.
func (r *BookRepositoryPG) MarkGenerating(ctx context.Context, id string) error {
	return execGuarded(ctx, r.sql, sqlinline.QBookMarkGenerating, id)
}

func (r *BookRepositoryPG) SetCharacterSheet(ctx context.Context, id, path string) error {
	return execOne(ctx, r.sql, sqlinline.QBookSetCharacterSheet, id, path)
}

func (r *BookRepositoryPG) SetTitle(ctx context.Context, id, title string) error {
	return execOne(ctx, r.sql, sqlinline.QBookSetTitle, id, title)
}

func (r *BookRepositoryPG) SetCover(ctx context.Context, id, path string) error {
	return execOne(ctx, r.sql, sqlinline.QBookSetCover, id, path)
}

func (r *BookRepositoryPG) MarkPreviewReady(ctx context.Context, id string) error {
	return execGuarded(ctx, r.sql, sqlinline.QBookMarkPreviewReady, id)
}

func (r *BookRepositoryPG) MarkFailed(ctx context.Context, id, message string) error {
	return execGuarded(ctx, r.sql, sqlinline.QBookMarkFailed, id, message)
}

var _ domain.BookRepository = (*BookRepositoryPG)(nil)
