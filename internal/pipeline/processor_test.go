package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/story"
)

const minaStory = `{"title":"Mina and the Starship","page1Text":"Mina zooms past the moon in her shiny silver rocket.","illustrationPrompt":"a girl in a rocket passing the moon"}`

type harness struct {
	w      *world
	store  *memStore
	text   *scriptedText
	images *fakeImages
	proc   *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		w:      newWorld(),
		store:  newMemStore(),
		text:   &scriptedText{responses: []string{minaStory}},
		images: &fakeImages{},
	}
	proc, err := NewProcessor(Options{
		Books:        fakeBooks{h.w},
		Jobs:         fakeJobs{h.w},
		Pages:        fakePages{h.w},
		Store:        h.store,
		Text:         h.text,
		Image:        h.images,
		StepTimeout:  time.Second,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewProcessor error: %v", err)
	}
	h.proc = proc
	return h
}

// seedMina enqueues the reference book with its uploaded photo.
func (h *harness) seedMina(t *testing.T, maxAttempts int) (*domain.Book, *domain.BookJob) {
	t.Helper()
	book := &domain.Book{
		ChildName: "Mina",
		AgeBand:   domain.AgeBand5to6,
		Interests: []string{"space"},
		Tone:      domain.ToneBrave,
	}
	job := h.w.addBook(book, maxAttempts)
	book.SourcePhotoPath = domain.SourcePhotoPath(book.ID, "jpg")
	h.w.books[book.ID].SourcePhotoPath = book.SourcePhotoPath
	if err := h.store.Put(context.Background(), domain.BucketUploads, book.SourcePhotoPath, "image/jpeg", []byte("jpeg-bytes")); err != nil {
		t.Fatalf("seed photo: %v", err)
	}
	return book, job
}

func (h *harness) processNext(t *testing.T) ProcessResult {
	t.Helper()
	res, err := h.proc.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext error: %v", err)
	}
	return res
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	if _, err := NewProcessor(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestProcessNextIdleQueue(t *testing.T) {
	h := newHarness(t)
	res := h.processNext(t)
	if res.Processed || res.HasMore || res.Error != "" {
		t.Fatalf("idle result = %+v, want zero value", res)
	}
	if h.w.writes != 0 || h.store.puts != 0 {
		t.Fatalf("idle run mutated state: writes=%d puts=%d", h.w.writes, h.store.puts)
	}
}

func TestEndToEndMinaPreview(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 3)

	for i := 0; i < 4; i++ {
		res := h.processNext(t)
		if !res.Processed || res.Error != "" {
			t.Fatalf("invocation %d: %+v", i+1, res)
		}
	}

	gotJob := h.w.job(job.ID)
	if gotJob.Status != domain.JobStatusCompleted || gotJob.Step != domain.StepComplete {
		t.Fatalf("job = %s/%s, want completed/complete", gotJob.Status, gotJob.Step)
	}
	if gotJob.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	got := h.w.book(book.ID)
	if got.Status != domain.BookStatusPreviewReady {
		t.Fatalf("book status = %s, want preview_ready", got.Status)
	}
	want := []domain.BookStatus{domain.BookStatusDraft, domain.BookStatusGenerating, domain.BookStatusPreviewReady}
	if fmt.Sprint(h.w.history[book.ID]) != fmt.Sprint(want) {
		t.Fatalf("status history = %v, want %v", h.w.history[book.ID], want)
	}
	if got.Title != "Mina and the Starship" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.CharacterSheetPath != domain.CharacterSheetPath(book.ID) || got.CoverImagePath != domain.CoverImagePath(book.ID) {
		t.Fatalf("artifact paths = %q, %q", got.CharacterSheetPath, got.CoverImagePath)
	}
	for _, obj := range []struct{ bucket, path string }{
		{domain.BucketUploads, domain.CharacterSheetPath(book.ID)},
		{domain.BucketImages, domain.CoverImagePath(book.ID)},
		{domain.BucketImages, domain.Page1ImagePath(book.ID)},
	} {
		if !h.store.has(obj.bucket, obj.path) {
			t.Fatalf("missing blob %s/%s", obj.bucket, obj.path)
		}
	}
	page, ok := h.w.page(book.ID, 1)
	if !ok {
		t.Fatal("page 1 missing")
	}
	if !strings.Contains(page.Text, "Mina zooms past the moon") || page.IllustrationPath != domain.Page1ImagePath(book.ID) {
		t.Fatalf("page 1 = %+v", page)
	}

	if res := h.processNext(t); res.Processed {
		t.Fatalf("fifth invocation processed %+v, want idle", res)
	}
}

func TestStepsProgressLinearly(t *testing.T) {
	h := newHarness(t)
	_, job := h.seedMina(t, 3)

	visited := []domain.JobStep{h.w.job(job.ID).Step}
	for i := 0; i < 10; i++ {
		res := h.processNext(t)
		if !res.Processed {
			break
		}
		if res.Step != visited[len(visited)-1] {
			t.Fatalf("ran step %s, pointer was %s", res.Step, visited[len(visited)-1])
		}
		visited = append(visited, h.w.job(job.ID).Step)
		if !res.HasMore {
			break
		}
	}
	want := []domain.JobStep{
		domain.StepCharacterSheet,
		domain.StepStoryText,
		domain.StepCoverImage,
		domain.StepPage1Image,
		domain.StepComplete,
	}
	if fmt.Sprint(visited) != fmt.Sprint(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
}

func TestStoryStepUpsertsSinglePage(t *testing.T) {
	h := newHarness(t)
	book, _ := h.seedMina(t, 3)
	h.text.responses = []string{
		minaStory,
		`{"title":"Mina Reaches the Stars","page1Text":"Mina waves at a comet as it whooshes by."}`,
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		b, _ := fakeBooks{h.w}.Get(ctx, book.ID)
		if err := h.proc.storyText(ctx, b); err != nil {
			t.Fatalf("storyText run %d: %v", i+1, err)
		}
	}
	if len(h.w.pages) != 1 {
		t.Fatalf("page rows = %d, want 1", len(h.w.pages))
	}
	page, _ := h.w.page(book.ID, 1)
	if page.Text != "Mina waves at a comet as it whooshes by." {
		t.Fatalf("page text = %q, want second run", page.Text)
	}
	if got := h.w.book(book.ID).Title; got != "Mina Reaches the Stars" {
		t.Fatalf("title = %q", got)
	}
}

func TestPageImageKeepsStoryText(t *testing.T) {
	h := newHarness(t)
	book, _ := h.seedMina(t, 3)
	ctx := context.Background()

	for _, step := range []stepFunc{h.proc.characterSheet, h.proc.storyText} {
		b, _ := fakeBooks{h.w}.Get(ctx, book.ID)
		if err := step(ctx, b); err != nil {
			t.Fatalf("setup step: %v", err)
		}
	}
	before, _ := h.w.page(book.ID, 1)

	b, _ := fakeBooks{h.w}.Get(ctx, book.ID)
	if err := h.proc.page1Image(ctx, b); err != nil {
		t.Fatalf("page1Image: %v", err)
	}
	after, _ := h.w.page(book.ID, 1)
	if after.Text != before.Text || after.IllustrationPrompt != before.IllustrationPrompt || after.PageType != before.PageType {
		t.Fatalf("text fields changed: before %+v after %+v", before, after)
	}
	if after.IllustrationPath != domain.Page1ImagePath(book.ID) {
		t.Fatalf("illustration path = %q", after.IllustrationPath)
	}
	last := h.images.prompts[len(h.images.prompts)-1]
	if !strings.Contains(last, before.Text) {
		t.Fatalf("scene prompt does not carry page text:\n%s", last)
	}
}

func TestRetryThenExhaust(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 3)
	h.images.err = &providers.Error{Provider: "test", Op: "image", StatusCode: http.StatusServiceUnavailable, Retryable: true, Message: "overloaded"}

	for i := 1; i <= 3; i++ {
		res := h.processNext(t)
		if !res.Processed || res.Error == "" {
			t.Fatalf("attempt %d: %+v", i, res)
		}
		if res.Step != domain.StepCharacterSheet {
			t.Fatalf("attempt %d ran %s, want same step", i, res.Step)
		}
		if i < 3 && (!res.HasMore || res.JobStatus != domain.JobStatusQueued) {
			t.Fatalf("attempt %d should requeue: %+v", i, res)
		}
	}
	if res := h.processNext(t); res.Processed {
		t.Fatalf("fourth claim succeeded: %+v", res)
	}
	if h.w.claims != 3 {
		t.Fatalf("claims = %d, want 3", h.w.claims)
	}
	gotJob := h.w.job(job.ID)
	if gotJob.Status != domain.JobStatusFailed || gotJob.Attempts != 3 {
		t.Fatalf("job = %s attempts %d, want failed after 3", gotJob.Status, gotJob.Attempts)
	}
	if !strings.Contains(gotJob.ErrorMessage, "overloaded") {
		t.Fatalf("job error = %q", gotJob.ErrorMessage)
	}
	gotBook := h.w.book(book.ID)
	if gotBook.Status != domain.BookStatusFailed || gotBook.ErrorMessage != FailureMessage {
		t.Fatalf("book = %s %q", gotBook.Status, gotBook.ErrorMessage)
	}
}

func TestUnparseableStoryFailsFast(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 3)
	h.text.responses = []string{"Once upon a time there was no JSON at all."}

	h.processNext(t) // character sheet
	res := h.processNext(t)
	if res.Step != domain.StepStoryText || res.JobStatus != domain.JobStatusFailed || res.HasMore {
		t.Fatalf("story result = %+v, want failed without retry", res)
	}
	if h.w.job(job.ID).Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", h.w.job(job.ID).Attempts)
	}
	if h.w.book(book.ID).Status != domain.BookStatusFailed {
		t.Fatal("book should be failed")
	}
	if _, ok := h.w.page(book.ID, 1); ok {
		t.Fatal("no page should be written from unparseable output")
	}
}

func TestMissingSourcePhotoFailsFast(t *testing.T) {
	h := newHarness(t)
	book := &domain.Book{ChildName: "Ada", AgeBand: domain.AgeBand3to4, Interests: []string{"cats"}, Tone: domain.ToneGentle}
	job := h.w.addBook(book, 3)

	res := h.processNext(t)
	if res.JobStatus != domain.JobStatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if h.images.calls != 0 {
		t.Fatalf("image provider called %d times", h.images.calls)
	}
	if got := h.w.job(job.ID); got.Attempts != 1 || !strings.Contains(got.ErrorMessage, domain.ErrMissingInput.Error()) {
		t.Fatalf("job = %+v", got)
	}
}

func TestSourcePhotoAbsentFromStorageFailsFast(t *testing.T) {
	h := newHarness(t)
	book := &domain.Book{ChildName: "Ada", AgeBand: domain.AgeBand3to4, Interests: []string{"cats"}, Tone: domain.ToneGentle}
	h.w.addBook(book, 3)
	h.w.books[book.ID].SourcePhotoPath = domain.SourcePhotoPath(book.ID, "png")

	if res := h.processNext(t); res.JobStatus != domain.JobStatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
}

func TestNonRetryableProviderErrorFailsFast(t *testing.T) {
	h := newHarness(t)
	_, job := h.seedMina(t, 3)
	h.images.err = &providers.Error{Provider: "test", Op: "image", StatusCode: http.StatusBadRequest, Retryable: false, Message: "bad prompt"}

	if res := h.processNext(t); res.JobStatus != domain.JobStatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if h.w.claims != 1 || h.w.job(job.ID).Status != domain.JobStatusFailed {
		t.Fatalf("claims = %d job = %s", h.w.claims, h.w.job(job.ID).Status)
	}
}

func TestMissingBookFailsJobImmediately(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 3)
	delete(h.w.books, book.ID)

	res := h.processNext(t)
	if !res.Processed || res.JobStatus != domain.JobStatusFailed {
		t.Fatalf("result = %+v", res)
	}
	got := h.w.job(job.ID)
	if got.Status != domain.JobStatusFailed || !strings.Contains(got.ErrorMessage, domain.ErrBookMissing.Error()) {
		t.Fatalf("job = %+v", got)
	}
	if h.images.calls != 0 {
		t.Fatal("no generation expected")
	}
}

func TestAttemptsBeyondMaxFailWithoutRunning(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 2)
	// A worker crashed mid-step twice; stale reclaim left the job queued.
	h.w.jobs[job.ID].Attempts = 2

	res := h.processNext(t)
	if res.JobStatus != domain.JobStatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if h.images.calls != 0 {
		t.Fatalf("step ran %d generations", h.images.calls)
	}
	if h.w.book(book.ID).Status != domain.BookStatusFailed {
		t.Fatal("book should be failed")
	}
}

func TestStepTimeoutIsRetried(t *testing.T) {
	h := newHarness(t)
	_, job := h.seedMina(t, 3)
	h.proc.stepTimeout = 20 * time.Millisecond
	h.images.block = true

	res := h.processNext(t)
	if res.JobStatus != domain.JobStatusQueued || !res.HasMore {
		t.Fatalf("result = %+v, want requeued", res)
	}
	if got := h.w.job(job.ID); got.Step != domain.StepCharacterSheet || got.Attempts != 1 {
		t.Fatalf("job = %s attempts %d", got.Step, got.Attempts)
	}
}

func TestProcessJobTargetsQueuedJobOnly(t *testing.T) {
	h := newHarness(t)
	_, first := h.seedMina(t, 3)
	_, second := h.seedMina(t, 3)

	res, err := h.proc.ProcessJob(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("ProcessJob error: %v", err)
	}
	if !res.Processed || res.JobID != second.ID {
		t.Fatalf("result = %+v, want job %s", res, second.ID)
	}
	if h.w.job(first.ID).Attempts != 0 {
		t.Fatal("other job should be untouched")
	}

	h.w.jobs[first.ID].Status = domain.JobStatusProcessing
	res, err = h.proc.ProcessJob(context.Background(), first.ID)
	if err != nil || res.Processed {
		t.Fatalf("claim of held job = %+v, %v; want not processed", res, err)
	}
}

func TestClaimErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.w.claimErr = errors.New("connection reset")

	if _, err := h.proc.ProcessNext(context.Background()); err == nil {
		t.Fatal("expected orchestration error")
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Permanent(errors.New("x")), true},
		{"parse", fmt.Errorf("wrap: %w", &story.ParseError{Reason: "no json"}), true},
		{"missing input", fmt.Errorf("%w: photo", domain.ErrMissingInput), true},
		{"retryable provider", &providers.Error{Retryable: true}, false},
		{"client provider", &providers.Error{StatusCode: 400}, true},
		{"timeout", context.DeadlineExceeded, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsPermanent(tc.err); got != tc.want {
			t.Fatalf("%s: IsPermanent = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestReclaimedMidStepDiscardsLateWrites(t *testing.T) {
	h := newHarness(t)
	book, job := h.seedMina(t, 3)
	// The sweep requeues the job and another worker claims it while this
	// invocation is still generating.
	h.images.during = func() {
		h.images.during = nil
		h.w.reclaim(job.ID)
	}

	res := h.processNext(t)
	if !res.ClaimLost || res.HasMore || res.JobStatus != "" {
		t.Fatalf("result = %+v, want claim lost without continuation", res)
	}
	got := h.w.job(job.ID)
	if got.Status != domain.JobStatusProcessing || got.Step != domain.StepCharacterSheet || got.Attempts != 2 {
		t.Fatalf("job = %s/%s attempts %d, want the second claim untouched", got.Status, got.Step, got.Attempts)
	}
	if h.w.book(book.ID).Status == domain.BookStatusFailed {
		t.Fatal("book must not be failed by a stale owner")
	}
}

func TestReclaimedMidStepDropsRetryRequeue(t *testing.T) {
	h := newHarness(t)
	_, job := h.seedMina(t, 3)
	h.images.err = &providers.Error{Provider: "test", Op: "image", StatusCode: http.StatusBadGateway, Retryable: true}
	h.images.during = func() {
		h.images.during = nil
		h.w.reclaim(job.ID)
	}

	res := h.processNext(t)
	if !res.ClaimLost || res.HasMore {
		t.Fatalf("result = %+v, want claim lost", res)
	}
	if got := h.w.job(job.ID); got.Status != domain.JobStatusProcessing || got.ErrorMessage != "" {
		t.Fatalf("job = %s %q, want still held by the second claim", got.Status, got.ErrorMessage)
	}
}

func TestReferenceMIMEFollowsStoredBytes(t *testing.T) {
	h := newHarness(t)
	h.seedMina(t, 3)
	h.images.data = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00sheet")
	h.images.mime = "image/jpeg"

	for i := 0; i < 3; i++ {
		if res := h.processNext(t); res.Error != "" {
			t.Fatalf("invocation %d: %+v", i+1, res)
		}
	}
	if len(h.images.refMIMEs) != 2 {
		t.Fatalf("image calls = %d, want character sheet and cover", len(h.images.refMIMEs))
	}
	if h.images.refMIMEs[0] != "image/jpeg" {
		t.Fatalf("photo reference MIME = %q, want image/jpeg from the upload path", h.images.refMIMEs[0])
	}
	if h.images.refMIMEs[1] != "image/jpeg" {
		t.Fatalf("character sheet reference MIME = %q, want image/jpeg despite the .png key", h.images.refMIMEs[1])
	}
}

func TestRetryBacksOffBeforeNextClaim(t *testing.T) {
	h := newHarness(t)
	h.proc.backoff = time.Minute
	_, job := h.seedMina(t, 3)
	h.images.err = &providers.Error{Provider: "test", Op: "image", StatusCode: http.StatusTooManyRequests, Retryable: true}

	if res := h.processNext(t); res.JobStatus != domain.JobStatusQueued || !res.HasMore {
		t.Fatalf("first attempt = %+v, want requeued", res)
	}
	if res := h.processNext(t); res.Processed {
		t.Fatalf("claimed during backoff: %+v", res)
	}
	if res, _ := h.proc.ProcessJob(context.Background(), job.ID); res.Processed {
		t.Fatalf("targeted claim during backoff: %+v", res)
	}

	h.w.clock = h.w.clock.Add(time.Minute)
	if res := h.processNext(t); !res.Processed || res.JobStatus != domain.JobStatusQueued {
		t.Fatalf("second attempt = %+v, want requeued", res)
	}
	want := []time.Duration{time.Minute, 2 * time.Minute}
	if fmt.Sprint(h.w.delays) != fmt.Sprint(want) {
		t.Fatalf("delays = %v, want %v", h.w.delays, want)
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	h := newHarness(t)
	h.proc.backoff = time.Minute
	if got := h.proc.retryDelay(1); got != time.Minute {
		t.Fatalf("retryDelay(1) = %s", got)
	}
	if got := h.proc.retryDelay(3); got != 4*time.Minute {
		t.Fatalf("retryDelay(3) = %s", got)
	}
	if got := h.proc.retryDelay(10); got != maxRetryBackoff {
		t.Fatalf("retryDelay(10) = %s, want cap %s", got, maxRetryBackoff)
	}
}
