package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tkendall99/bedtime-solved/internal/storage"
)

// ServeFile serves a stored object when the exp/sig pair from a signed URL is valid.
func (a *App) ServeFile(w http.ResponseWriter, r *http.Request) {
	bucket, path := chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
	q := r.URL.Query()
	if a.Files == nil || !a.Files.VerifySignature(bucket, path, q.Get("exp"), q.Get("sig")) {
		a.error(w, http.StatusForbidden, "forbidden", "invalid or expired link")
		return
	}
	data, err := a.Files.Get(r.Context(), bucket, path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", storage.ContentTypeForPath(path))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
