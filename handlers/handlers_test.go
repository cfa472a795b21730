package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gewnthar/propcat/database"
	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/metrics"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/services"
)

type testServer struct {
	router http.Handler
	repo   *database.MemoryStore
	mainID int64
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	repo := database.NewMemoryStore()
	reg := prometheus.NewRegistry()
	engine := services.NewEngine(repo, services.WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	records := []models.RawRecord{
		{
			Source:     "county_tax",
			ObservedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Fields: map[string]any{
				"address": "123 Main St", "city": "Springfield", "state": "IL", "county": "Sangamon",
				"tax_delinquent": true, "tax_delinquency_years": 2,
			},
		},
		{
			Source:     "code_enforcement",
			ObservedAt: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
			Fields: map[string]any{
				"address": "123 MAIN STREET", "city": "springfield", "state": "il", "condemned": true,
			},
		},
		{
			Source:     "county_tax",
			ObservedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Fields: map[string]any{
				"address": "40 Oak Rd", "city": "Peoria", "state": "IL", "tax_delinquent": false,
			},
		},
	}
	run, err := engine.IngestBatch(ctx, "county_tax", records[:1], services.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, run.Added)
	for _, raw := range records[1:] {
		_, err := engine.Ingest(ctx, raw, services.Options{})
		require.NoError(t, err)
	}
	p, err := repo.FindByKey(ctx, models.IdentityKey{Address: "123 main street", City: "springfield", State: "il"})
	require.NoError(t, err)
	require.NotNil(t, p)

	h := New(services.NewCatalog(repo), services.NewExporter(repo), repo, logger.Nop())
	return testServer{router: NewRouter(h, reg), repo: repo, mainID: p.ID}
}

func (s testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthReportsDatabaseDown(t *testing.T) {
	repo := database.NewMemoryStore()
	h := New(services.NewCatalog(repo), services.NewExporter(repo), downPinger{}, nil)
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[map[string]string](t, rec)["status"])
}

func TestSearchProperties(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		query   string
		wantIDs int
		first   string
	}{
		{"all", "", 2, "123 main street"},
		{"by city", "?city=Peoria", 1, "40 oak road"},
		{"by county", "?county=sangamon", 1, "123 main street"},
		{"min score", "?min_score=10", 1, "123 main street"},
		{"tax delinquent false", "?tax_delinquent=false", 1, "40 oak road"},
		{"search", "?q=oak", 1, "40 oak road"},
		{"search raw address", "?q=123%20Main%20St.", 1, "123 main street"},
		{"search by city", "?q=Peoria", 1, "40 oak road"},
		{"state by name", "?state=Illinois", 2, "123 main street"},
		{"city untrimmed", "?city=%20springfield%20", 1, "123 main street"},
		{"min tax years", "?min_tax_years=2", 1, "123 main street"},
		{"min tax years above", "?min_tax_years=3", 0, ""},
		{"paged", "?limit=1&offset=1", 1, "40 oak road"},
		{"no match", "?state=tx", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(t, "/api/properties"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			rows := decode[[]models.CanonicalProperty](t, rec)
			require.Len(t, rows, tt.wantIDs)
			if tt.first != "" {
				assert.Equal(t, tt.first, rows[0].Key.Address)
			}
		})
	}
}

func TestSearchRejectsBadParameters(t *testing.T) {
	s := newTestServer(t)
	for _, q := range []string{
		"?min_score=high",
		"?limit=-1",
		"?offset=x",
		"?tax_delinquent=maybe",
		"?in_foreclosure=2",
		"?order_by=price",
		"?min_tax_years=-2",
		"?demolition_days=soon",
	} {
		t.Run(q, func(t *testing.T) {
			rec := s.get(t, "/api/properties"+q)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestDemolitions(t *testing.T) {
	s := newTestServer(t)
	engine := services.NewEngine(s.repo)
	today := models.DateOnly(time.Now().UTC())
	for i, days := range []int{20, 3, 45} {
		_, err := engine.Ingest(context.Background(), models.RawRecord{
			Source:     "demolition_permits",
			ObservedAt: time.Now().UTC(),
			Fields: map[string]any{
				"address": strconv.Itoa(10+i) + " Elm St", "city": "Springfield", "state": "IL",
				"demolition_scheduled": true,
				"demolition_date":      today.AddDate(0, 0, days).Format("2006-01-02"),
			},
		}, services.Options{})
		require.NoError(t, err)
	}

	rec := s.get(t, "/api/demolitions")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]models.CanonicalProperty](t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "11 elm street", rows[0].Key.Address)
	assert.Equal(t, "10 elm street", rows[1].Key.Address)

	rec = s.get(t, "/api/demolitions?days=60")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.CanonicalProperty](t, rec), 3)

	rec = s.get(t, "/api/properties?demolition_days=7")
	require.Equal(t, http.StatusOK, rec.Code)
	rows = decode[[]models.CanonicalProperty](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "11 elm street", rows[0].Key.Address)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/demolitions?days=0").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/demolitions?days=x").Code)
}

func TestGetProperty(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/properties/"+strconv.FormatInt(s.mainID, 10))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, s.mainID, body["id"])
	assert.EqualValues(t, 10, body["abandonment_score"])
	assert.Len(t, body["score_breakdown"], 2)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/properties/9999").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/properties/abc").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/properties/0").Code)
}

func TestPropertyHistoryAndObservations(t *testing.T) {
	s := newTestServer(t)
	base := "/api/properties/" + strconv.FormatInt(s.mainID, 10)

	rec := s.get(t, base+"/history")
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[[]models.HistoryEntry](t, rec)
	require.NotEmpty(t, hist)
	fields := make([]string, 0, len(hist))
	for _, e := range hist {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, models.FieldCondemned)

	rec = s.get(t, base+"/observations")
	require.Equal(t, http.StatusOK, rec.Code)
	obs := decode[[]models.SourceObservation](t, rec)
	require.Len(t, obs, 2)
	assert.Equal(t, "county_tax", obs[0].Source)
	assert.Equal(t, "code_enforcement", obs[1].Source)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/properties/9999/history").Code)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/properties/9999/observations").Code)
}

func TestStatsAndRuns(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[models.Stats](t, rec)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.TaxDelinquent)
	assert.Equal(t, 1, st.Condemned)
	assert.Equal(t, 2, st.ByState["il"])

	rec = s.get(t, "/api/runs?source=county_tax")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]models.ScraperRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSuccess, runs[0].Status)

	rec = s.get(t, "/api/runs?source=nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/runs?limit=ten").Code)
}

func TestExportCSV(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/export.csv?min_score=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "properties.csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "abandonment_score")
	assert.Contains(t, rows[1], "10")

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/export.csv?limit=no").Code)
}

type brokenStore struct {
	*database.MemoryStore
}

func (brokenStore) FindByFilters(context.Context, models.Filters) ([]models.CanonicalProperty, error) {
	return nil, models.Unavailable("find by filters", errors.New("too many connections"))
}

func (brokenStore) StreamByFilters(context.Context, models.Filters, func(models.CanonicalProperty) error) error {
	return models.Unavailable("stream by filters", errors.New("too many connections"))
}

func TestStorageFaultsMapTo503(t *testing.T) {
	repo := brokenStore{database.NewMemoryStore()}
	h := New(services.NewCatalog(repo), services.NewExporter(repo), repo, nil)
	router := NewRouter(h, nil)

	for _, path := range []string{"/api/properties", "/api/export.csv"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "storage unavailable", decode[map[string]string](t, rec)["error"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "propcat_records_ingested_total")
}
