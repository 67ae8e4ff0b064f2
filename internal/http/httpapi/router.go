package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wujiajunhahah/dreamvision/internal/http/handlers"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/middleware"
)

// Options tunes the router middleware stack.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	Logger          *infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID(*infra.OrDiscard(opts.Logger)),
		chimw.Recoverer,
		middleware.Logger,
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Route("/v1/dreams", func(r chi.Router) {
			r.Post("/", app.DreamsCreate)
			r.Get("/", app.DreamsList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.DreamGet)
				r.Patch("/", app.DreamUpdate)
				r.Delete("/", app.DreamDelete)
				r.Post("/analyze", app.DreamAnalyze)
				r.Post("/generate", app.DreamGenerate)
				r.Post("/cancel", app.DreamCancel)
				r.Post("/retry", app.DreamRetry)
				r.Get("/progress", app.DreamProgress)
				r.Get("/asset", app.DreamAsset)
			})
		})
		r.Get("/v1/assets", app.ListAssets)
		r.Get("/v1/models", app.ListModels)
		r.Get("/v1/events", app.Events)
	})

	// Streams stay open; they are not counted against the rate limit.
	r.Get("/v1/events/stream", app.EventStream)

	return r
}
