package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gewnthar/propcat/config"
	"github.com/gewnthar/propcat/database"
	"github.com/gewnthar/propcat/geocode"
	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/metrics"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/score"
)

// clock hands out strictly increasing timestamps.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock {
	return &clock{cur: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func scenarioA() models.RawRecord {
	return models.RawRecord{
		Source:     "county_tax",
		ObservedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Fields: map[string]any{
			"address":               "123 Main St",
			"city":                  "Springfield",
			"state":                 "IL",
			"tax_delinquent":        true,
			"tax_delinquency_years": 2,
		},
	}
}

func scenarioB() models.RawRecord {
	return models.RawRecord{
		Source:     "code_enforcement",
		ObservedAt: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		Fields: map[string]any{
			"address":   "123 MAIN STREET",
			"city":      "springfield",
			"state":     "il",
			"condemned": true,
		},
	}
}

func newTestEngine(repo Repository, opts ...EngineOption) *Engine {
	base := []EngineOption{WithClock(newClock().Now), WithLogger(logger.Nop())}
	return NewEngine(repo, append(base, opts...)...)
}

func TestScenarioA_NewPropertyScoresFive(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	res, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeCreated, res.Outcome)
	assert.Equal(t, "none", res.Match)
	assert.Equal(t, 5, res.Score)
	assert.Empty(t, res.Changes)

	p, err := repo.FindByID(ctx, res.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, models.IdentityKey{Address: "123 main street", City: "springfield", State: "il"}, p.Key)
	assert.Equal(t, 5, p.AbandonmentScore)
	assert.Equal(t, []string{"county_tax"}, p.DataSources)

	hist, err := repo.History(ctx, res.PropertyID)
	require.NoError(t, err)
	assert.Empty(t, hist)
	obs, err := repo.Observations(ctx, res.PropertyID)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "123 Main St", obs[0].Payload["address"])
}

func TestScenarioB_SecondSourceMergesIntoSameProperty(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	first, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	second, err := e.Ingest(ctx, scenarioB(), Options{})
	require.NoError(t, err)

	assert.Equal(t, first.PropertyID, second.PropertyID)
	assert.Equal(t, "exact", second.Match)
	assert.Equal(t, metrics.OutcomeUpdated, second.Outcome)
	assert.Equal(t, 10, second.Score)

	hist, err := repo.History(ctx, first.PropertyID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.FieldCondemned, hist[0].Field)
	assert.Nil(t, hist[0].OldValue)
	assert.Equal(t, "true", *hist[0].NewValue)
	assert.Equal(t, "code_enforcement", hist[0].Source)
	assert.Equal(t, models.FieldAbandonmentScore, hist[1].Field)
	assert.Equal(t, "5", *hist[1].OldValue)
	assert.Equal(t, "10", *hist[1].NewValue)

	p, err := repo.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, []string{"county_tax", "code_enforcement"}, p.DataSources)
	assert.True(t, *p.TaxDelinquent)
	assert.Equal(t, 2, *p.TaxDelinquencyYears)
}

func TestScenarioC_MissingStateIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	raw := scenarioA()
	raw.Fields["state"] = ""
	_, err := e.Ingest(ctx, raw, Options{})

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "state", verr.Field)

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Zero(t, st.Observations)
}

func TestMissingSourceIsRejected(t *testing.T) {
	raw := scenarioA()
	raw.Source = " "
	_, err := newTestEngine(database.NewMemoryStore()).Ingest(context.Background(), raw, Options{})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "source", verr.Field)
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	first, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	before, err := repo.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)

	again, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeUnchanged, again.Outcome)
	assert.Equal(t, first.PropertyID, again.PropertyID)
	assert.Empty(t, again.Changes)

	after, err := repo.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, before.AbandonmentScore, after.AbandonmentScore)
	assert.True(t, before.LastUpdated.Equal(after.LastUpdated))
	assert.Equal(t, before.Attributes, after.Attributes)

	hist, err := repo.History(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMonotonicRegressionIsReportedOnce(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(repo, WithMetrics(m))

	raw := scenarioA()
	raw.Fields["tax_delinquency_years"] = 3
	first, err := e.Ingest(ctx, raw, Options{})
	require.NoError(t, err)

	raw.Source = "tax_roll_2"
	raw.Fields["tax_delinquency_years"] = 1
	for i := 0; i < 2; i++ {
		res, err := e.Ingest(ctx, raw, Options{})
		require.NoError(t, err)
		assert.Equal(t, metrics.OutcomeUnchanged, res.Outcome)
	}

	p, err := repo.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, 3, *p.TaxDelinquencyYears)

	hist, err := repo.History(ctx, first.PropertyID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.ChangeKindDiscrepancy, hist[0].ChangeType)
	assert.Equal(t, "3", *hist[0].OldValue)
	assert.Equal(t, "1", *hist[0].NewValue)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Discrepancies.WithLabelValues(models.FieldTaxDelinquencyYears)))
}

func TestFuzzyMatchingIsOptIn(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	original := scenarioA()
	original.Fields["address"] = "123 Main St W"
	first, err := e.Ingest(ctx, original, Options{})
	require.NoError(t, err)

	other := scenarioA()
	other.Fields["address"] = "123 Main St"
	_, err = e.Ingest(ctx, other, Options{})
	require.NoError(t, err)

	variant := scenarioB()
	variant.Fields["address"] = "123 W Main St"

	fuzzy, err := e.Ingest(ctx, variant, Options{Fuzzy: true})
	require.NoError(t, err)
	assert.Equal(t, first.PropertyID, fuzzy.PropertyID)
	assert.Equal(t, "fuzzy", fuzzy.Match)

	p, err := repo.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, "123 main street west", p.Key.Address, "the identity key never changes")

	exact, err := e.Ingest(ctx, variant, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first.PropertyID, exact.PropertyID)
	assert.Equal(t, metrics.OutcomeCreated, exact.Outcome)
}

func TestConcurrentIngestSameKeyIsSerial(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw := scenarioB()
			raw.Source = fmt.Sprintf("inspector_%02d", i)
			delete(raw.Fields, "condemned")
			raw.Fields["violation_count"] = i
			_, err := e.Ingest(ctx, raw, Options{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := repo.FindByFilters(ctx, models.Filters{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p := rows[0]
	assert.Equal(t, n, *p.ViolationCount)
	assert.Len(t, p.DataSources, n)
	assert.Equal(t, score.Score(p), p.AbandonmentScore)

	obs, err := repo.Observations(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, obs, n)

	// Each save after the first either raised the count or was rejected as a regression.
	hist, err := repo.History(ctx, p.ID)
	require.NoError(t, err)
	counted := 0
	for _, h := range hist {
		if h.Field == models.FieldViolationCount {
			counted++
		}
	}
	assert.Equal(t, n-1, counted)
	assert.Zero(t, e.locks.Len())
}

func TestConcurrentIngestDifferentKeys(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw := scenarioA()
			raw.Fields["address"] = fmt.Sprintf("%d Main St", 100+i)
			_, err := e.Ingest(ctx, raw, Options{Fuzzy: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, st.Total)
}

// flakyRepo fails the first conflicts saves with models.ErrConflict.
type flakyRepo struct {
	*database.MemoryStore
	mu        sync.Mutex
	conflicts int
	saves     int
	findErr   error
}

func (r *flakyRepo) Save(ctx context.Context, p *models.CanonicalProperty, obs models.SourceObservation, changes []models.FieldChange) (int64, error) {
	r.mu.Lock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return 0, models.ErrConflict
	}
	r.mu.Unlock()
	return r.MemoryStore.Save(ctx, p, obs, changes)
}

func (r *flakyRepo) FindByKey(ctx context.Context, key models.IdentityKey) (*models.CanonicalProperty, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.MemoryStore.FindByKey(ctx, key)
}

func TestConflictIsRetriedOnce(t *testing.T) {
	repo := &flakyRepo{MemoryStore: database.NewMemoryStore(), conflicts: 1}
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(repo, WithMetrics(m))

	res, err := e.Ingest(context.Background(), scenarioA(), Options{})
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, metrics.OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, repo.saves)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictRetries))
}

func TestPersistentConflictFailsTheRecord(t *testing.T) {
	repo := &flakyRepo{MemoryStore: database.NewMemoryStore(), conflicts: 2}
	e := newTestEngine(repo)

	_, err := e.Ingest(context.Background(), scenarioA(), Options{})
	var cerr *models.ConflictRetryError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "123 main street", cerr.Key.Address)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 2, repo.saves)
}

func TestRepositoryUnavailableIsNotRetried(t *testing.T) {
	repo := &flakyRepo{
		MemoryStore: database.NewMemoryStore(),
		findErr:     models.Unavailable("find by key", errors.New("connection reset")),
	}
	e := newTestEngine(repo)

	_, err := e.Ingest(context.Background(), scenarioA(), Options{})
	var uerr *models.RepositoryUnavailableError
	require.True(t, errors.As(err, &uerr), "got %v", err)
	assert.Zero(t, repo.saves)
}

type stubGeocoder struct {
	mu    sync.Mutex
	calls []string
	res   *geocode.Result
	err   error
}

func (g *stubGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, address)
	return g.res, g.err
}

func TestGeocodingFillsMissingCoordinates(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	g := &stubGeocoder{res: &geocode.Result{Lat: 39.78, Lng: -89.65, FormattedAddress: "123 Main St, Springfield, IL"}}
	e := newTestEngine(repo, WithGeocoder(g))

	res, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"123 main street, springfield, IL"}, g.calls)

	p, err := repo.FindByID(ctx, res.PropertyID)
	require.NoError(t, err)
	assert.InDelta(t, 39.78, *p.Latitude, 1e-9)
	assert.InDelta(t, -89.65, *p.Longitude, 1e-9)
	assert.Equal(t, "123 Main St, Springfield, IL", *p.FormattedAddress)

	located := scenarioB()
	located.Fields["latitude"] = 39.78
	located.Fields["longitude"] = -89.65
	_, err = e.Ingest(ctx, located, Options{})
	require.NoError(t, err)
	assert.Len(t, g.calls, 1, "records with coordinates are not geocoded")
}

func TestGeocodingFailureDoesNotFailIngest(t *testing.T) {
	g := &stubGeocoder{err: errors.New("provider down")}
	e := newTestEngine(database.NewMemoryStore(), WithGeocoder(g))

	res, err := e.Ingest(context.Background(), scenarioA(), Options{})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeCreated, res.Outcome)
}

func TestIngestBatchReport(t *testing.T) {
	ctx := context.Background()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo, WithWorkers(3))

	records := []models.RawRecord{
		{Fields: map[string]any{"address": "1 Oak St", "city": "Peoria", "state": "IL"}},
		{Fields: map[string]any{"address": "2 Oak St", "city": "Peoria", "state": "IL", "condemned": "yes"}},
		{Fields: map[string]any{"address": "3 Oak St", "city": "Peoria", "state": ""}},
		{Fields: map[string]any{"address": "4 Oak St", "city": "Peoria", "state": "Illinois"}},
	}
	run, err := e.IngestBatch(ctx, "hud", records, Options{})
	require.NoError(t, err)

	assert.Equal(t, "hud", run.Source)
	assert.Equal(t, 4, run.Found)
	assert.Equal(t, 3, run.Added)
	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, run.Failed)
	assert.Equal(t, models.RunPartial, run.Status)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "record 3")
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	runs, err := repo.Runs(ctx, "hud", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Condemned)
}

func TestIngestBatchAllValid(t *testing.T) {
	e := newTestEngine(database.NewMemoryStore())
	run, err := e.IngestBatch(context.Background(), "county_tax", []models.RawRecord{scenarioA(), scenarioB()}, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, 2, run.Added+run.Updated+run.Unchanged)
	assert.Empty(t, run.Errors)
}

func TestIngestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)

	run, err := e.IngestBatch(ctx, "hud", []models.RawRecord{scenarioA()}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunFailure, run.Status)

	runs, err := repo.Runs(context.Background(), "hud", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "the report is still logged")
}

func TestEngineAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "propcat.db")}
	store, err := database.Open(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer store.Close()

	e := newTestEngine(store)
	first, err := e.Ingest(ctx, scenarioA(), Options{})
	require.NoError(t, err)
	second, err := e.Ingest(ctx, scenarioB(), Options{Fuzzy: true})
	require.NoError(t, err)
	require.Equal(t, first.PropertyID, second.PropertyID)

	p, err := store.FindByID(ctx, first.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.AbandonmentScore)
	assert.Equal(t, int64(2), p.Version)

	hist, err := store.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.FieldCondemned, hist[0].Field)
	assert.Equal(t, models.FieldAbandonmentScore, hist[1].Field)

	again, err := e.Ingest(ctx, scenarioB(), Options{})
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeUnchanged, again.Outcome)
	hist, err = store.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}
