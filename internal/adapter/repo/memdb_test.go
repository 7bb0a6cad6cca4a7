package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/sqlinline"
)

// memDB emulates the rows behind the sqlinline statements. Each statement runs
// under one lock, mirroring Postgres row-level atomicity for single updates.
type memDB struct {
	mu    sync.Mutex
	clock time.Time
	books map[string]*domain.Book
	jobs  map[string]*domain.BookJob
	pages map[string]*domain.BookPage

	// retryAfter mirrors book_jobs.retry_after.
	retryAfter map[string]time.Time

	// onSelectNext runs after the queued candidate is picked, before the
	// claim. Tests use it to interleave a competing worker.
	onSelectNext func(id string)
	queries      []string
}

func newMemDB() *memDB {
	return &memDB{
		clock: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
		books: map[string]*domain.Book{},
		jobs:  map[string]*domain.BookJob{},
		pages: map[string]*domain.BookPage{},

		retryAfter: map[string]time.Time{},
	}
}

func (m *memDB) backingOff(id string) bool {
	until, ok := m.retryAfter[id]
	return ok && until.After(m.clock)
}

func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func pageKey(bookID string, n int) string { return fmt.Sprintf("%s#%d", bookID, n) }

func (m *memDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	now := m.tick()
	affected := 0

	switch query {
	case sqlinline.QBookMarkGenerating, sqlinline.QBookMarkPreviewReady, sqlinline.QBookMarkFailed:
		b, ok := m.books[args[0].(string)]
		if ok && (b.Status == domain.BookStatusDraft || b.Status == domain.BookStatusGenerating) {
			switch query {
			case sqlinline.QBookMarkGenerating:
				b.Status, b.ErrorMessage = domain.BookStatusGenerating, ""
			case sqlinline.QBookMarkPreviewReady:
				b.Status, b.ErrorMessage = domain.BookStatusPreviewReady, ""
			default:
				b.Status, b.ErrorMessage = domain.BookStatusFailed, args[1].(string)
			}
			b.UpdatedAt = now
			affected = 1
		}
	case sqlinline.QBookSetCharacterSheet, sqlinline.QBookSetTitle, sqlinline.QBookSetCover:
		if b, ok := m.books[args[0].(string)]; ok {
			switch query {
			case sqlinline.QBookSetCharacterSheet:
				b.CharacterSheetPath = args[1].(string)
			case sqlinline.QBookSetTitle:
				b.Title = args[1].(string)
			default:
				b.CoverImagePath = args[1].(string)
			}
			b.UpdatedAt = now
			affected = 1
		}
	case sqlinline.QJobAdvanceStep, sqlinline.QJobRequeue, sqlinline.QJobMarkCompleted,
		sqlinline.QJobMarkFailed, sqlinline.QJobRequeueForRetry:
		j, ok := m.jobs[args[0].(string)]
		claimedAt := args[len(args)-1].(time.Time)
		if !ok || j.Status != domain.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Equal(claimedAt) {
			break
		}
		switch query {
		case sqlinline.QJobAdvanceStep:
			j.Step = domain.JobStep(args[1].(string))
			j.Attempts = 0
		case sqlinline.QJobRequeue:
			j.Status, j.ErrorMessage = domain.JobStatusQueued, ""
		case sqlinline.QJobMarkCompleted:
			j.Status, j.ErrorMessage = domain.JobStatusCompleted, ""
			j.CompletedAt = &now
		case sqlinline.QJobMarkFailed:
			j.Status, j.ErrorMessage = domain.JobStatusFailed, args[1].(string)
			j.CompletedAt = &now
		default:
			j.Status, j.ErrorMessage = domain.JobStatusQueued, args[1].(string)
			m.retryAfter[j.ID] = now.Add(time.Duration(args[2].(float64) * float64(time.Second)))
		}
		j.UpdatedAt = now
		affected = 1
	case sqlinline.QJobReclaimStale:
		cutoff := now.Add(-time.Duration(args[0].(float64) * float64(time.Second)))
		for _, j := range m.jobs {
			if j.Status == domain.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
				j.Status = domain.JobStatusQueued
				j.ErrorMessage = "step did not finish before the worker stopped"
				affected++
			}
		}
	case sqlinline.QPageUpsertText:
		bookID, n := args[0].(string), args[1].(int)
		p, ok := m.pages[pageKey(bookID, n)]
		if !ok {
			p = &domain.BookPage{ID: uuid.NewString(), BookID: bookID, PageNumber: n, CreatedAt: now}
			m.pages[pageKey(bookID, n)] = p
		}
		p.PageType = domain.PageType(args[2].(string))
		p.Text = args[3].(string)
		p.IllustrationPrompt = args[4].(string)
		p.UpdatedAt = now
		affected = 1
	case sqlinline.QPageSetIllustration:
		bookID, n := args[0].(string), args[1].(int)
		p, ok := m.pages[pageKey(bookID, n)]
		if !ok {
			p = &domain.BookPage{ID: uuid.NewString(), BookID: bookID, PageNumber: n, PageType: domain.PageTypeContent, CreatedAt: now}
			m.pages[pageKey(bookID, n)] = p
		}
		p.IllustrationPath = args[2].(string)
		p.UpdatedAt = now
		affected = 1
	default:
		return pgconn.CommandTag{}, fmt.Errorf("memdb: unexpected exec %q", query)
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", affected)), nil
}

func (m *memDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if query == sqlinline.QJobSelectNextQueued {
		row := m.selectNextQueued()
		if m.onSelectNext != nil && row.err == nil {
			m.onSelectNext(row.vals[0].(string))
		}
		return row
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)

	switch query {
	case sqlinline.QBookSelectByID:
		b, ok := m.books[args[0].(string)]
		if !ok {
			return valuesRow{err: pgx.ErrNoRows}
		}
		return valuesRow{vals: []any{
			b.ID, b.ChildName, string(b.AgeBand), append([]string(nil), b.Interests...), string(b.Tone),
			b.MoralLesson, b.SourcePhotoPath, b.CharacterSheetPath, b.CoverImagePath, b.Title,
			string(b.Status), b.ErrorMessage, b.CreatedAt, b.UpdatedAt,
		}}
	case sqlinline.QBookInsertWithJob:
		id := args[0].(string)
		if _, exists := m.books[id]; exists {
			return valuesRow{err: &pgconn.PgError{Code: "23505", ConstraintName: "books_pkey"}}
		}
		now := m.tick()
		m.books[id] = &domain.Book{
			ID:              id,
			ChildName:       args[1].(string),
			AgeBand:         domain.AgeBand(args[2].(string)),
			Interests:       args[3].([]string),
			Tone:            domain.Tone(args[4].(string)),
			MoralLesson:     args[5].(string),
			SourcePhotoPath: args[6].(string),
			Status:          domain.BookStatusDraft,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		job := &domain.BookJob{
			ID:          uuid.NewString(),
			BookID:      id,
			Status:      domain.JobStatusQueued,
			Step:        domain.StepCharacterSheet,
			MaxAttempts: args[7].(int),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.jobs[job.ID] = job
		return jobRow(job)
	case sqlinline.QJobClaim:
		j, ok := m.jobs[args[0].(string)]
		if !ok || j.Status != domain.JobStatusQueued || m.backingOff(j.ID) {
			return valuesRow{err: pgx.ErrNoRows}
		}
		now := m.tick()
		delete(m.retryAfter, j.ID)
		j.Status = domain.JobStatusProcessing
		j.Attempts++
		j.StartedAt = &now
		j.UpdatedAt = now
		return jobRow(j)
	case sqlinline.QJobSelectByID:
		j, ok := m.jobs[args[0].(string)]
		if !ok {
			return valuesRow{err: pgx.ErrNoRows}
		}
		return jobRow(j)
	case sqlinline.QJobSelectLatestForBook:
		var latest *domain.BookJob
		for _, j := range m.jobs {
			if j.BookID == args[0].(string) && (latest == nil || j.CreatedAt.After(latest.CreatedAt)) {
				latest = j
			}
		}
		if latest == nil {
			return valuesRow{err: pgx.ErrNoRows}
		}
		return jobRow(latest)
	case sqlinline.QPageSelect:
		p, ok := m.pages[pageKey(args[0].(string), args[1].(int))]
		if !ok {
			return valuesRow{err: pgx.ErrNoRows}
		}
		return valuesRow{vals: []any{
			p.ID, p.BookID, p.PageNumber, string(p.PageType), p.Text, p.IllustrationPrompt,
			p.IllustrationPath, p.CreatedAt, p.UpdatedAt,
		}}
	}
	return valuesRow{err: fmt.Errorf("memdb: unexpected query %q", query)}
}

func (m *memDB) selectNextQueued() valuesRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, sqlinline.QJobSelectNextQueued)
	var oldest *domain.BookJob
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusQueued || m.backingOff(j.ID) {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return valuesRow{err: pgx.ErrNoRows}
	}
	return valuesRow{vals: []any{oldest.ID}}
}

func (m *memDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("memdb: unexpected query %q", query)
}

func jobRow(j *domain.BookJob) valuesRow {
	return valuesRow{vals: []any{
		j.ID, j.BookID, string(j.Status), string(j.Step), j.ErrorMessage, j.Attempts, j.MaxAttempts,
		j.CreatedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt,
	}}
}

type valuesRow struct {
	vals []any
	err  error
}

func (r valuesRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.vals))
	}
	for i, d := range dest {
		var ok bool
		switch p := d.(type) {
		case *string:
			*p, ok = r.vals[i].(string)
		case *int:
			*p, ok = r.vals[i].(int)
		case *time.Time:
			*p, ok = r.vals[i].(time.Time)
		case **time.Time:
			*p, ok = r.vals[i].(*time.Time)
		case *[]string:
			*p, ok = r.vals[i].([]string)
		}
		if !ok {
			return fmt.Errorf("scan: column %d is %T, destination %T", i, r.vals[i], d)
		}
	}
	return nil
}
