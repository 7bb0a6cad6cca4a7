package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tkendall99/bedtime-solved/internal/books"
)

// Uploads stores a raw image body as the source photo of a new book.
func (a *App) Uploads(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, books.MaxPhotoBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "photo must be smaller than 8MB")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	up, err := a.Books.UploadPhoto(r.Context(), r.Header.Get("Content-Type"), data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, up)
}

func (a *App) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req books.CreateRequest
	if err := decode(w, r, &req, false); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	book, job, err := a.Books.Create(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"bookId": book.ID, "jobId": job.ID})
}

func (a *App) GetBook(w http.ResponseWriter, r *http.Request) {
	view, err := a.Books.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, view)
}
