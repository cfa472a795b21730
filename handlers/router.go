// handlers/router.go
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/services"
)

// Catalog is the read side the HTTP API serves.
type Catalog interface {
	Search(ctx context.Context, f models.Filters) ([]models.CanonicalProperty, error)
	Get(ctx context.Context, id int64) (services.PropertyDetail, error)
	History(ctx context.Context, id int64) ([]models.HistoryEntry, error)
	Observations(ctx context.Context, id int64) ([]models.SourceObservation, error)
	Stats(ctx context.Context) (models.Stats, error)
	Runs(ctx context.Context, source string, limit int) ([]models.ScraperRun, error)
}

type Exporter interface {
	WriteCSV(ctx context.Context, w io.Writer, f models.Filters) (int, error)
}

// Pinger reports whether storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the property catalog over HTTP.
type Handler struct {
	catalog  Catalog
	exporter Exporter
	health   Pinger
	log      *logger.Logger
}

func New(catalog Catalog, exporter Exporter, health Pinger, log *logger.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		exporter: exporter,
		health:   health,
		log:      logger.OrNop(log),
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.RequestID)
	api.Use(middleware.Recoverer)
	api.Use(requestLogger(h.log))
	api.Use(middleware.Timeout(60 * time.Second))

	api.Get("/health", h.handleHealth)
	api.Get("/properties", h.handleSearch)
	api.Get("/properties/{id}", h.handleGet)
	api.Get("/properties/{id}/history", h.handleHistory)
	api.Get("/properties/{id}/observations", h.handleObservations)
	api.Get("/demolitions", h.handleDemolitions)
	api.Get("/stats", h.handleStats)
	api.Get("/runs", h.handleRuns)
	api.Get("/export.csv", h.handleExport)

	r.Mount("/api", api)
}

// NewRouter builds the full server mux. gatherer may be nil, in which case /metrics is not
// served.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
}
