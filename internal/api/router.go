package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiMiddleware "github.com/phrazzld/contentq/internal/api/middleware"
)

// RouterConfig collects the router's dependencies.
type RouterConfig struct {
	Queue  TaskQueue
	Inline SyncRunner

	// Tokens enables bearer authentication on /api when non-nil.
	Tokens apiMiddleware.TokenValidator

	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer

	// RequestTimeout bounds non-sync requests. Zero disables it.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the HTTP handler for the task API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(log))
	r.Use(apiMiddleware.RequestLogger)
	r.Use(chimw.Recoverer)

	tasks := NewTaskHandler(cfg.Queue, cfg.Inline, log)
	authMiddleware := apiMiddleware.NewAuthMiddleware(cfg.Tokens)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Sync creation runs the whole workflow, so it is exempt from the
		// request timeout.
		r.Post("/", tasks.CreateTask)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(cfg.RequestTimeout))
			}
			r.Get("/", tasks.ListTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", tasks.GetTask)
				r.Patch("/", tasks.UpdateTask)
				r.Delete("/", tasks.DeleteTask)
				r.Post("/cancel", tasks.CancelTask)
				r.Post("/retry", tasks.RetryTask)
				r.Post("/release", tasks.ReleaseTask)
				r.Get("/result", tasks.GetResult)
				r.Get("/snapshot", tasks.GetSnapshot)
			})
		})
	})

	r.Get("/health", tasks.Health)
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
