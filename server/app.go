// Package server serves a span database over a read-only JSON API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tunes an App.
type Options struct {
	// MaxRows caps list and traversal responses; zero means no cap.
	MaxRows int
	Logger  *slog.Logger
}

// App holds server dependencies.
type App struct {
	ds      *Dataset
	maxRows int
	log     *slog.Logger

	registry *prometheus.Registry
	metrics  *serverMetrics
}

// NewApp creates an App over a loaded dataset.
func NewApp(ds *Dataset, opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &App{
		ds:       ds,
		maxRows:  opts.MaxRows,
		log:      log,
		registry: reg,
		metrics:  newServerMetrics(reg),
	}
	a.metrics.spans.Set(float64(ds.Len()))
	return a
}

// Handler returns the HTTP handler (router with CORS, recovery, routes).
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(a.instrument)

	r.Route("/api", func(r chi.Router) {
		r.Get("/spans", a.handleSpans)
		r.Get("/spans/{id}", a.handleSpan)
		r.Get("/descendants", a.handleDescendants)
		r.Get("/ancestors", a.handleAncestors)
		r.Get("/spurious-wakeups", a.handleSpurious)
		r.Get("/thread-states/{id}/span", a.handleThreadStateSpan)
		r.Get("/stats", a.handleStats)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return r
}

// corsMiddleware sets CORS headers for API so a frontend on another port can call.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
