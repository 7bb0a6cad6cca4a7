package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/storage"
)

// world is an in-memory stand-in for the database. The repositories below
// share it so a test can inspect every row.
type world struct {
	mu       sync.Mutex
	clock    time.Time
	books    map[string]*domain.Book
	jobs     map[string]*domain.BookJob
	pages    map[string]*domain.BookPage
	history  map[string][]domain.BookStatus
	claims   int
	writes   int
	claimErr error

	// retryAfter and delays mirror book_jobs.retry_after.
	retryAfter map[string]time.Time
	delays     []time.Duration
}

func newWorld() *world {
	return &world{
		clock:   time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC),
		books:   map[string]*domain.Book{},
		jobs:    map[string]*domain.BookJob{},
		pages:   map[string]*domain.BookPage{},
		history: map[string][]domain.BookStatus{},

		retryAfter: map[string]time.Time{},
	}
}

func (w *world) tick() time.Time {
	w.clock = w.clock.Add(time.Second)
	return w.clock
}

func (w *world) addBook(b *domain.Book, maxAttempts int) *domain.BookJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := w.tick()
	b.Status = domain.BookStatusDraft
	b.CreatedAt, b.UpdatedAt = now, now
	w.books[b.ID] = b
	w.history[b.ID] = []domain.BookStatus{domain.BookStatusDraft}
	job := &domain.BookJob{
		ID:          uuid.NewString(),
		BookID:      b.ID,
		Status:      domain.JobStatusQueued,
		Step:        domain.StepCharacterSheet,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w.jobs[job.ID] = job
	return job
}

func (w *world) job(id string) domain.BookJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.jobs[id]
}

func (w *world) book(id string) domain.Book {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.books[id]
}

func (w *world) page(bookID string, n int) (domain.BookPage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pages[fmt.Sprintf("%s#%d", bookID, n)]
	if !ok {
		return domain.BookPage{}, false
	}
	return *p, true
}

type fakeBooks struct{ w *world }

func (f fakeBooks) Get(ctx context.Context, id string) (*domain.Book, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b, ok := f.w.books[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	cp.Interests = append([]string(nil), b.Interests...)
	return &cp, nil
}

func (f fakeBooks) CreateWithJob(ctx context.Context, book *domain.Book, maxAttempts int) (*domain.BookJob, error) {
	job := f.w.addBook(book, maxAttempts)
	cp := *job
	return &cp, nil
}

func (f fakeBooks) update(id string, fn func(b *domain.Book)) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b, ok := f.w.books[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.w.writes++
	fn(b)
	b.UpdatedAt = f.w.tick()
	return nil
}

func (f fakeBooks) setStatus(id string, status domain.BookStatus, msg string) error {
	return f.update(id, func(b *domain.Book) {
		if b.Status != domain.BookStatusDraft && b.Status != domain.BookStatusGenerating {
			return
		}
		if b.Status != status {
			f.w.history[id] = append(f.w.history[id], status)
		}
		b.Status, b.ErrorMessage = status, msg
	})
}

func (f fakeBooks) MarkGenerating(ctx context.Context, id string) error {
	return f.setStatus(id, domain.BookStatusGenerating, "")
}

func (f fakeBooks) SetCharacterSheet(ctx context.Context, id, path string) error {
	return f.update(id, func(b *domain.Book) { b.CharacterSheetPath = path })
}

func (f fakeBooks) SetTitle(ctx context.Context, id, title string) error {
	return f.update(id, func(b *domain.Book) { b.Title = title })
}

func (f fakeBooks) SetCover(ctx context.Context, id, path string) error {
	return f.update(id, func(b *domain.Book) { b.CoverImagePath = path })
}

func (f fakeBooks) MarkPreviewReady(ctx context.Context, id string) error {
	return f.setStatus(id, domain.BookStatusPreviewReady, "")
}

func (f fakeBooks) MarkFailed(ctx context.Context, id, message string) error {
	return f.setStatus(id, domain.BookStatusFailed, message)
}

type fakeJobs struct{ w *world }

func (w *world) claimable(j *domain.BookJob) bool {
	if j == nil || j.Status != domain.JobStatusQueued {
		return false
	}
	until, ok := w.retryAfter[j.ID]
	return !ok || !until.After(w.clock)
}

func (f fakeJobs) claimLocked(j *domain.BookJob) *domain.BookJob {
	if !f.w.claimable(j) {
		return nil
	}
	delete(f.w.retryAfter, j.ID)
	now := f.w.clock
	f.w.claims++
	j.Status = domain.JobStatusProcessing
	j.Attempts++
	j.StartedAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp
}

func (f fakeJobs) ClaimNext(ctx context.Context) (*domain.BookJob, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.claimErr != nil {
		return nil, f.w.claimErr
	}
	f.w.tick()
	var oldest *domain.BookJob
	for _, j := range f.w.jobs {
		if f.w.claimable(j) && (oldest == nil || j.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = j
		}
	}
	return f.claimLocked(oldest), nil
}

func (f fakeJobs) Claim(ctx context.Context, id string) (*domain.BookJob, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.claimErr != nil {
		return nil, f.w.claimErr
	}
	f.w.tick()
	return f.claimLocked(f.w.jobs[id]), nil
}

func (f fakeJobs) Get(ctx context.Context, id string) (*domain.BookJob, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	j, ok := f.w.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f fakeJobs) LatestForBook(ctx context.Context, bookID string) (*domain.BookJob, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var latest *domain.BookJob
	for _, j := range f.w.jobs {
		if j.BookID == bookID && (latest == nil || j.CreatedAt.After(latest.CreatedAt)) {
			latest = j
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// update applies fn while the caller's claim is still the current one.
func (f fakeJobs) update(job *domain.BookJob, fn func(j *domain.BookJob, now time.Time)) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	j, ok := f.w.jobs[job.ID]
	if !ok || j.Status != domain.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Equal(job.ClaimedAt()) {
		return fmt.Errorf("%w: %s", domain.ErrClaimLost, job.ID)
	}
	f.w.writes++
	now := f.w.tick()
	fn(j, now)
	j.UpdatedAt = now
	return nil
}

func (f fakeJobs) AdvanceStep(ctx context.Context, job *domain.BookJob, next domain.JobStep) error {
	return f.update(job, func(j *domain.BookJob, _ time.Time) { j.Step, j.Attempts = next, 0 })
}

func (f fakeJobs) Requeue(ctx context.Context, job *domain.BookJob) error {
	return f.update(job, func(j *domain.BookJob, _ time.Time) { j.Status, j.ErrorMessage = domain.JobStatusQueued, "" })
}

func (f fakeJobs) MarkCompleted(ctx context.Context, job *domain.BookJob) error {
	return f.update(job, func(j *domain.BookJob, now time.Time) {
		j.Status, j.ErrorMessage, j.CompletedAt = domain.JobStatusCompleted, "", &now
	})
}

func (f fakeJobs) MarkFailed(ctx context.Context, job *domain.BookJob, message string) error {
	return f.update(job, func(j *domain.BookJob, now time.Time) {
		j.Status, j.ErrorMessage, j.CompletedAt = domain.JobStatusFailed, message, &now
	})
}

func (f fakeJobs) RequeueForRetry(ctx context.Context, job *domain.BookJob, message string, delay time.Duration) error {
	return f.update(job, func(j *domain.BookJob, now time.Time) {
		j.Status, j.ErrorMessage = domain.JobStatusQueued, message
		f.w.retryAfter[j.ID] = now.Add(delay)
		f.w.delays = append(f.w.delays, delay)
	})
}

// reclaim mimics the stale sweep followed by another worker's claim.
func (w *world) reclaim(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j := w.jobs[id]
	now := w.tick()
	j.Status = domain.JobStatusProcessing
	j.Attempts++
	j.StartedAt = &now
}

func (f fakeJobs) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakePages struct{ w *world }

func (f fakePages) Get(ctx context.Context, bookID string, n int) (*domain.BookPage, error) {
	p, ok := f.w.page(bookID, n)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f fakePages) row(bookID string, n int) *domain.BookPage {
	key := fmt.Sprintf("%s#%d", bookID, n)
	p, ok := f.w.pages[key]
	if !ok {
		p = &domain.BookPage{ID: uuid.NewString(), BookID: bookID, PageNumber: n, PageType: domain.PageTypeContent, CreatedAt: f.w.tick()}
		f.w.pages[key] = p
	}
	f.w.writes++
	p.UpdatedAt = f.w.tick()
	return p
}

func (f fakePages) UpsertText(ctx context.Context, page *domain.BookPage) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	p := f.row(page.BookID, page.PageNumber)
	p.PageType, p.Text, p.IllustrationPrompt = page.PageType, page.Text, page.IllustrationPrompt
	return nil
}

func (f fakePages) SetIllustration(ctx context.Context, bookID string, n int, path string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	f.row(bookID, n).IllustrationPath = path
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (s *memStore) Put(ctx context.Context, bucket, path, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.objects[bucket+"/"+path] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+path]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, path)
	}
	return data, nil
}

func (s *memStore) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	return "https://files.test/" + bucket + "/" + path, nil
}

func (s *memStore) has(bucket, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[bucket+"/"+path]
	return ok
}

// scriptedText returns queued responses in order and repeats the last one.
type scriptedText struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	last      providers.TextRequest
}

func (s *scriptedText) GenerateText(ctx context.Context, req providers.TextRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type fakeImages struct {
	mu       sync.Mutex
	err      error
	block    bool
	data     []byte
	mime     string
	during   func()
	calls    int
	prompts  []string
	refs     [][]byte
	refMIMEs []string
}

func (f *fakeImages) GenerateImage(ctx context.Context, req providers.ImageRequest) (providers.Image, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	f.refs = append(f.refs, req.Reference)
	f.refMIMEs = append(f.refMIMEs, req.ReferenceMIME)
	err, block, during := f.err, f.block, f.during
	data, mime := f.data, f.mime
	n := f.calls
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if block {
		<-ctx.Done()
		return providers.Image{}, ctx.Err()
	}
	if err != nil {
		return providers.Image{}, err
	}
	if data == nil {
		data, mime = []byte(fmt.Sprintf("png-%d", n)), "image/png"
	}
	return providers.Image{Data: data, MIMEType: mime}, nil
}
