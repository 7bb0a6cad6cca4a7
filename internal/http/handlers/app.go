package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/books"
	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/pipeline"
	"github.com/tkendall99/bedtime-solved/internal/queue"
)

// BookService is the create/status surface the public routes need.
type BookService interface {
	UploadPhoto(ctx context.Context, contentType string, data []byte) (books.Upload, error)
	Create(ctx context.Context, req books.CreateRequest) (*domain.Book, *domain.BookJob, error)
	Status(ctx context.Context, bookID string) (*books.StatusView, error)
}

// JobProcessor runs one pipeline step per call.
type JobProcessor interface {
	ProcessNext(ctx context.Context) (pipeline.ProcessResult, error)
	ProcessJob(ctx context.Context, jobID string) (pipeline.ProcessResult, error)
}

// SignedFiles serves objects behind FileStore signed URLs.
type SignedFiles interface {
	VerifySignature(bucket, path, exp, sig string) bool
	Get(ctx context.Context, bucket, path string) ([]byte, error)
}

type App struct {
	Books    BookService
	Jobs     JobProcessor
	Notifier queue.Notifier
	Files    SignedFiles
	// Ping reports database health. Nil skips the check.
	Ping func(ctx context.Context) error
	// PublicBaseURL is advertised as the server in the OpenAPI document.
	PublicBaseURL string
	Logger        zerolog.Logger

	docs openAPIDoc
}

const maxJSONBody = 64 << 10

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *books.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, map[string]apiError{"error": {
			Code:    "invalid_argument",
			Message: verr.Error(),
			Fields:  verr.Fields,
		}})
	case errors.Is(err, domain.ErrInvalidArgument):
		a.error(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "book not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", "a book with this id already exists")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a bounded JSON body. An empty body leaves v untouched when
// allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
