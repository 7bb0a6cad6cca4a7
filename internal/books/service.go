// Package books accepts new book requests and reports their progress.
package books

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/queue"
	"github.com/tkendall99/bedtime-solved/internal/storage"
)

const (
	MaxPhotoBytes   = 8 << 20
	minNameLen      = 2
	maxNameLen      = 32
	maxInterests    = 3
	maxInterestLen  = 30
	maxLessonLength = 140
)

var namePattern = regexp.MustCompile(`^[A-Za-z\s'-]+$`)

// ValidationError lists invalid request fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidArgument }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

type Options struct {
	Books        domain.BookRepository
	Jobs         domain.JobRepository
	Pages        domain.PageRepository
	Store        storage.Store
	Notifier     queue.Notifier
	MaxAttempts  int
	SignedURLTTL time.Duration
	Logger       *zerolog.Logger
}

type Service struct {
	books       domain.BookRepository
	jobs        domain.JobRepository
	pages       domain.PageRepository
	store       storage.Store
	notifier    queue.Notifier
	maxAttempts int
	ttl         time.Duration
	logger      zerolog.Logger
}

func NewService(opts Options) *Service {
	s := &Service{
		books:       opts.Books,
		jobs:        opts.Jobs,
		pages:       opts.Pages,
		store:       opts.Store,
		notifier:    opts.Notifier,
		maxAttempts: opts.MaxAttempts,
		ttl:         opts.SignedURLTTL,
		logger:      infra.LoggerOrNop(opts.Logger),
	}
	if s.notifier == nil {
		s.notifier = queue.Nop{}
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = domain.DefaultMaxAttempts
	}
	if s.ttl <= 0 {
		s.ttl = storage.DefaultSignedURLTTL
	}
	return s
}

// Upload is a stored source photo. BookID reserves the id the book will use.
type Upload struct {
	BookID string `json:"bookId"`
	Path   string `json:"path"`
}

// UploadPhoto stores a source photo under a fresh book id. The declared and
// sniffed content types must both be an accepted image type.
func (s *Service) UploadPhoto(ctx context.Context, contentType string, data []byte) (Upload, error) {
	if len(data) == 0 {
		return Upload{}, invalid("photo", "photo is required")
	}
	if len(data) > MaxPhotoBytes {
		return Upload{}, invalid("photo", fmt.Sprintf("photo must be smaller than %dMB", MaxPhotoBytes>>20))
	}
	ext, ok := storage.ExtensionForMIME(contentType)
	if !ok {
		return Upload{}, invalid("photo", "please upload a JPG, PNG, or WebP image")
	}
	if sniffed, ok := storage.ExtensionForMIME(http.DetectContentType(data)); !ok || sniffed != ext {
		return Upload{}, invalid("photo", "file contents do not match the declared image type")
	}
	up := Upload{BookID: uuid.NewString()}
	up.Path = domain.SourcePhotoPath(up.BookID, ext)
	if err := s.store.Put(ctx, domain.BucketUploads, up.Path, storage.ContentTypeForPath(up.Path), data); err != nil {
		return Upload{}, fmt.Errorf("store photo: %w", err)
	}
	return up, nil
}

// CreateRequest is the create-book payload.
type CreateRequest struct {
	BookID      string   `json:"bookId"`
	ChildName   string   `json:"childName"`
	AgeBand     string   `json:"ageBand"`
	Interests   []string `json:"interests"`
	Tone        string   `json:"tone"`
	MoralLesson string   `json:"moralLesson"`
	PhotoPath   string   `json:"photoPath"`
}

// Validate normalises the request and returns the book it describes.
func (req CreateRequest) Validate() (*domain.Book, error) {
	fields := map[string]string{}

	name := strings.Join(strings.Fields(req.ChildName), " ")
	switch n := utf8.RuneCountInString(name); {
	case n < minNameLen:
		fields["childName"] = "name must be at least 2 characters"
	case n > maxNameLen:
		fields["childName"] = "name must be 32 characters or less"
	case !namePattern.MatchString(name):
		fields["childName"] = "name can only contain letters, spaces, hyphens, and apostrophes"
	}

	age := domain.AgeBand(strings.TrimSpace(req.AgeBand))
	if !age.Valid() {
		fields["ageBand"] = "please select a valid age range"
	}

	var interests []string
	for _, i := range req.Interests {
		i = strings.TrimSpace(i)
		if i == "" || utf8.RuneCountInString(i) > maxInterestLen {
			fields["interests"] = "each interest must be 1 to 30 characters"
			break
		}
		interests = append(interests, i)
	}
	if _, bad := fields["interests"]; !bad && (len(interests) < 1 || len(interests) > maxInterests) {
		fields["interests"] = "please select 1 to 3 interests"
	}

	tone := domain.Tone(strings.TrimSpace(req.Tone))
	if !tone.Valid() {
		fields["tone"] = "please select a valid story tone"
	}

	lesson := strings.TrimSpace(req.MoralLesson)
	if utf8.RuneCountInString(lesson) > maxLessonLength {
		fields["moralLesson"] = "lesson must be 140 characters or less"
	}

	bookID, photoPath := strings.TrimSpace(req.BookID), strings.TrimSpace(req.PhotoPath)
	prefix, file, found := strings.Cut(photoPath, "/")
	switch {
	case !found || file == "" || strings.Contains(file, "/") || !strings.HasPrefix(file, "source."):
		fields["photoPath"] = "photo path must be {bookId}/source.{ext}"
	case bookID != "" && bookID != prefix:
		fields["photoPath"] = "photo path does not belong to this book"
	}
	if bookID == "" {
		bookID = prefix
	}
	if _, err := uuid.Parse(bookID); err != nil {
		fields["bookId"] = "book id must be a uuid"
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return &domain.Book{
		ID:              bookID,
		ChildName:       name,
		AgeBand:         age,
		Interests:       interests,
		Tone:            tone,
		MoralLesson:     lesson,
		SourcePhotoPath: photoPath,
	}, nil
}

// Create validates the request, checks the photo was uploaded, and inserts
// the book with its first job. Notification failures are logged only; the
// worker's poll picks the job up regardless.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Book, *domain.BookJob, error) {
	book, err := req.Validate()
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.store.Get(ctx, domain.BucketUploads, book.SourcePhotoPath); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, invalid("photoPath", "photo not found, please upload again")
		}
		return nil, nil, fmt.Errorf("check photo: %w", err)
	}
	job, err := s.books.CreateWithJob(ctx, book, s.maxAttempts)
	if err != nil {
		return nil, nil, err
	}
	if err := s.notifier.Notify(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("books: notify worker failed")
	}
	s.logger.Info().Str("book_id", book.ID).Str("job_id", job.ID).Msg("books: queued")
	return book, job, nil
}

// StatusView is the polling response. Preview is set only once the preview
// is ready; storage paths are never exposed.
type StatusView struct {
	BookID       string            `json:"bookId"`
	Status       domain.BookStatus `json:"status"`
	Step         domain.JobStep    `json:"step,omitempty"`
	StepLabel    string            `json:"stepLabel,omitempty"`
	ErrorMessage *string           `json:"errorMessage"`
	CreatedAt    time.Time         `json:"createdAt"`
	Preview      *Preview          `json:"preview,omitempty"`
}

type Preview struct {
	Title         string `json:"title"`
	CoverURL      string `json:"coverUrl,omitempty"`
	Page1ImageURL string `json:"page1ImageUrl,omitempty"`
	Page1Text     string `json:"page1Text"`
}

func (s *Service) Status(ctx context.Context, bookID string) (*StatusView, error) {
	if _, err := uuid.Parse(bookID); err != nil {
		return nil, invalid("bookId", "invalid book id format")
	}
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{BookID: book.ID, Status: book.Status, CreatedAt: book.CreatedAt}
	if book.ErrorMessage != "" {
		msg := book.ErrorMessage
		view.ErrorMessage = &msg
	}

	job, err := s.jobs.LatestForBook(ctx, bookID)
	switch {
	case err == nil:
		view.Step = job.Step
		if !book.Status.Terminal() {
			view.StepLabel = job.Step.Label()
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if book.Status.PreviewAvailable() {
		preview, err := s.preview(ctx, book)
		if err != nil {
			return nil, err
		}
		view.Preview = preview
	}
	return view, nil
}

func (s *Service) preview(ctx context.Context, book *domain.Book) (*Preview, error) {
	p := &Preview{Title: book.Title}
	if book.CoverImagePath != "" {
		url, err := s.store.SignedURL(ctx, domain.BucketImages, book.CoverImagePath, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("sign cover: %w", err)
		}
		p.CoverURL = url
	}
	page, err := s.pages.Get(ctx, book.ID, 1)
	if errors.Is(err, domain.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.Page1Text = page.Text
	if page.IllustrationPath != "" {
		url, err := s.store.SignedURL(ctx, domain.BucketImages, page.IllustrationPath, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("sign page 1: %w", err)
		}
		p.Page1ImageURL = url
	}
	return p, nil
}
