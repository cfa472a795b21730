// handlers/property_handler.go
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gewnthar/propcat/models"
)

const (
	defaultRunsLimit      = 20
	defaultDemolitionDays = 30
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.log.Error("health check failed: database ping error", "error", err)
			respondWithJSON(w, h.log, http.StatusServiceUnavailable,
				map[string]string{"status": "error", "message": "database connection error"})
			return
		}
	}
	respondWithJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSearch lists properties matching the query parameters, highest score first.
// GET /api/properties?state=il&city=springfield&min_score=5&limit=50
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.catalog.Search(r.Context(), f)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, rows)
}

// handleDemolitions lists properties with demolition scheduled within the next days
// (default 30), soonest first. Other search filters still apply.
func (h *Handler) handleDemolitions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	f.DemolitionDays = defaultDemolitionDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, h.log, http.StatusBadRequest, fmt.Sprintf("invalid days %q", v))
			return
		}
		f.DemolitionDays = n
	}
	f.OrderBy = models.OrderByDemolitionDate
	rows, err := h.catalog.Search(r.Context(), f)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, rows)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.propertyID(w, r)
	if !ok {
		return
	}
	detail, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, detail)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.propertyID(w, r)
	if !ok {
		return
	}
	entries, err := h.catalog.History(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, entries)
}

func (h *Handler) handleObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.propertyID(w, r)
	if !ok {
		return
	}
	obs, err := h.catalog.Observations(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, obs)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.catalog.Stats(r.Context())
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, st)
}

// handleRuns lists logged collector runs, newest first.
// GET /api/runs?source=county-tax-roll&limit=10
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultRunsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, h.log, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := h.catalog.Runs(r.Context(), q.Get("source"), limit)
	if err != nil {
		respondWithServiceError(w, h.log, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, runs)
}

// handleExport streams the matching properties as CSV. Paging parameters are honored when
// given; by default every match is exported.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}
	out := &csvResponse{w: w}
	n, err := h.exporter.WriteCSV(r.Context(), out, f)
	if err != nil {
		if !out.started {
			respondWithServiceError(w, h.log, err)
			return
		}
		// Status already sent; the client sees a truncated file.
		h.log.Error("export aborted mid-stream", "rows", n, "error", err)
		return
	}
	h.log.Info("export served", "rows", n)
}

// csvResponse sends the CSV headers on the first write.
type csvResponse struct {
	w       http.ResponseWriter
	started bool
}

func (c *csvResponse) Write(p []byte) (int, error) {
	if !c.started {
		c.started = true
		c.w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		c.w.Header().Set("Content-Disposition", `attachment; filename="properties.csv"`)
		c.w.WriteHeader(http.StatusOK)
	}
	return c.w.Write(p)
}

func (h *Handler) propertyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, h.log, http.StatusBadRequest, fmt.Sprintf("invalid property id %q", raw))
		return 0, false
	}
	return id, true
}

// parseFilters reads models.Filters from the query string.
func parseFilters(r *http.Request) (models.Filters, error) {
	q := r.URL.Query()
	f := models.Filters{
		State:  strings.TrimSpace(q.Get("state")),
		County: strings.TrimSpace(q.Get("county")),
		City:   strings.TrimSpace(q.Get("city")),
		Status: strings.TrimSpace(q.Get("status")),
		Search: strings.TrimSpace(q.Get("q")),
	}

	switch order := q.Get("order_by"); order {
	case "", models.OrderByScore, models.OrderByLastUpdated, models.OrderByDiscoveryDate, models.OrderByDemolitionDate:
		f.OrderBy = order
	default:
		return f, fmt.Errorf("invalid order_by %q", order)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"min_score", &f.MinScore},
		{"min_tax_years", &f.MinTaxYears},
		{"demolition_days", &f.DemolitionDays},
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid %s %q", p.name, v)
		}
		*p.dst = n
	}

	if v := q.Get("tax_delinquent"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid tax_delinquent %q", v)
		}
		f.TaxDelinquent = &b
	}
	if v := q.Get("in_foreclosure"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid in_foreclosure %q", v)
		}
		f.InForeclosure = b
	}
	return f, nil
}
