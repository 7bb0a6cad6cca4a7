package repo

import (
	"context"
	"fmt"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
)

// execOne runs an update that must hit exactly one row.
func execOne(ctx context.Context, sql infra.SQLExecutor, query string, args ...any) error {
	tag, err := sql.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, args[0])
	}
	return nil
}

// execClaimed runs a write fenced by a job claim. No matching row means the
// claim went stale or the job is gone.
func execClaimed(ctx context.Context, sql infra.SQLExecutor, query string, args ...any) error {
	tag, err := sql.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %v", domain.ErrClaimLost, args[0])
	}
	return nil
}

// execGuarded runs an update whose predicate may legitimately match nothing,
// such as a forward-only status change on a book that already moved on.
func execGuarded(ctx context.Context, sql infra.SQLExecutor, query string, args ...any) error {
	_, err := sql.Exec(ctx, query, args...)
	return err
}
