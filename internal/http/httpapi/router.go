package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tkendall99/bedtime-solved/internal/http/handlers"
	"github.com/tkendall99/bedtime-solved/internal/middleware"
)

type Options struct {
	AdminAPIKey     string
	CORSOrigins     []string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Public book flow
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/v1/uploads", app.Uploads)
		r.Post("/v1/books", app.CreateBook)
	})
	r.Get("/v1/books/{id}", app.GetBook)
	r.Get("/v1/files/{bucket}/*", app.ServeFile)

	// Job triggers
	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminKey(opts.AdminAPIKey))
		r.Post("/v1/admin/jobs/process-next", app.AdminProcessNext)
		r.Post("/v1/hooks/book-jobs", app.BookJobsHook)
	})

	return r
}
