package repo

import (
	"context"
	"fmt"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/sqlinline"
)

// PageRepositoryPG implements domain.PageRepository.
type PageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewPageRepository(sql infra.SQLExecutor) *PageRepositoryPG {
	return &PageRepositoryPG{sql: sql}
}

func (r *PageRepositoryPG) Get(ctx context.Context, bookID string, pageNumber int) (*domain.BookPage, error) {
	var (
		page     domain.BookPage
		pageType string
	)
	err := r.sql.QueryRow(ctx, sqlinline.QPageSelect, bookID, pageNumber).Scan(
		&page.ID,
		&page.BookID,
		&page.PageNumber,
		&pageType,
		&page.Text,
		&page.IllustrationPrompt,
		&page.IllustrationPath,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get page %d of book %s: %w", pageNumber, bookID, err)
	}
	page.PageType = domain.PageType(pageType)
	return &page, nil
}

// UpsertText writes the text columns of a page, creating the row if needed.
// The illustration path is left as is.
func (r *PageRepositoryPG) UpsertText(ctx context.Context, page *domain.BookPage) error {
	if page == nil || page.BookID == "" || page.PageNumber < 0 {
		return fmt.Errorf("%w: page requires book id and page number", domain.ErrInvalidArgument)
	}
	pageType := page.PageType
	if pageType == "" {
		pageType = domain.PageTypeContent
	}
	_, err := r.sql.Exec(ctx, sqlinline.QPageUpsertText,
		page.BookID,
		page.PageNumber,
		string(pageType),
		page.Text,
		page.IllustrationPrompt,
	)
	if err != nil {
		return fmt.Errorf("upsert page %d of book %s: %w", page.PageNumber, page.BookID, err)
	}
	return nil
}

// SetIllustration records the illustration path only.
func (r *PageRepositoryPG) SetIllustration(ctx context.Context, bookID string, pageNumber int, path string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QPageSetIllustration, bookID, pageNumber, path); err != nil {
		return fmt.Errorf("set illustration for page %d of book %s: %w", pageNumber, bookID, err)
	}
	return nil
}

var _ domain.PageRepository = (*PageRepositoryPG)(nil)
