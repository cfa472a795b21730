package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gewnthar/propcat/database"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/score"
)

func seeded(t *testing.T) (*database.MemoryStore, int64) {
	t.Helper()
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)
	res, err := e.Ingest(context.Background(), scenarioA(), Options{})
	require.NoError(t, err)
	_, err = e.Ingest(context.Background(), scenarioB(), Options{})
	require.NoError(t, err)

	other := scenarioA()
	other.Fields["address"] = "9 Elm Ave"
	other.Fields["tax_delinquency_years"] = 1
	other.Fields["last_sale_date"] = "2019-07-04"
	_, err = e.Ingest(context.Background(), other, Options{})
	require.NoError(t, err)
	return repo, res.PropertyID
}

func TestCatalogGetIncludesBreakdown(t *testing.T) {
	repo, id := seeded(t)
	c := NewCatalog(repo)

	d, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 10, d.AbandonmentScore)
	assert.Equal(t, []score.Contribution{
		{Rule: score.RuleTaxMultiYear, Points: 5},
		{Rule: score.RuleCondemned, Points: 5},
	}, d.ScoreBreakdown)

	_, err = c.Get(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCatalogSearchAndPaging(t *testing.T) {
	repo, _ := seeded(t)
	c := NewCatalog(repo)
	ctx := context.Background()

	rows, err := c.Search(ctx, models.Filters{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 10, rows[0].AbandonmentScore)
	assert.Equal(t, 3, rows[1].AbandonmentScore)

	rows, err = c.Search(ctx, models.Filters{MinScore: 11})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	rows, err = c.Search(ctx, models.Filters{Limit: MaxPageSize * 10, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCatalogSearchNormalizesFilters(t *testing.T) {
	repo, _ := seeded(t)
	e := newTestEngine(repo)
	ctx := context.Background()
	owned := scenarioA()
	owned.Fields = map[string]any{
		"address": "77 Lake Dr", "city": "Peoria", "state": "Illinois", "owner": "Acme Holdings LLC",
	}
	_, err := e.Ingest(ctx, owned, Options{})
	require.NoError(t, err)
	c := NewCatalog(repo)

	tests := []struct {
		name string
		f    models.Filters
		want []string
	}{
		{"state by name", models.Filters{State: "Illinois"}, []string{"123 main street", "9 elm avenue", "77 lake drive"}},
		{"state padded", models.Filters{State: " il "}, []string{"123 main street", "9 elm avenue", "77 lake drive"}},
		{"city padded", models.Filters{City: " springfield "}, []string{"123 main street", "9 elm avenue"}},
		{"city mixed case", models.Filters{City: "PEORIA"}, []string{"77 lake drive"}},
		{"raw address search", models.Filters{Search: "123 Main St."}, []string{"123 main street"}},
		{"suffix spelled out", models.Filters{Search: "elm avenue"}, []string{"9 elm avenue"}},
		{"city search", models.Filters{Search: "Peoria"}, []string{"77 lake drive"}},
		{"owner search", models.Filters{Search: "ACME"}, []string{"77 lake drive"}},
		{"min tax years", models.Filters{MinTaxYears: 2}, []string{"123 main street"}},
		{"min tax years one", models.Filters{MinTaxYears: 1}, []string{"123 main street", "9 elm avenue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := c.Search(ctx, tt.f)
			require.NoError(t, err)
			got := make([]string, 0, len(rows))
			for _, p := range rows {
				got = append(got, p.Key.Address)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogSearchDemolitionWindow(t *testing.T) {
	repo := database.NewMemoryStore()
	e := newTestEngine(repo)
	ctx := context.Background()
	today := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	for addr, date := range map[string]string{
		"1 Elm St": "2024-06-30",
		"2 Elm St": "2024-06-10",
		"3 Elm St": "2024-07-11",
		"4 Elm St": "2024-06-09",
	} {
		raw := scenarioA()
		raw.Fields = map[string]any{
			"address": addr, "city": "Springfield", "state": "IL",
			"demolition_scheduled": true, "demolition_date": date,
		}
		_, err := e.Ingest(ctx, raw, Options{})
		require.NoError(t, err)
	}
	unscheduled := scenarioA()
	unscheduled.Fields = map[string]any{
		"address": "5 Elm St", "city": "Springfield", "state": "IL",
		"demolition_scheduled": false, "demolition_date": "2024-06-12",
	}
	_, err := e.Ingest(ctx, unscheduled, Options{})
	require.NoError(t, err)

	rows, err := NewCatalog(repo).Search(ctx, models.Filters{
		DemolitionDays: 30, Today: today, OrderBy: models.OrderByDemolitionDate,
	})
	require.NoError(t, err)
	got := make([]string, 0, len(rows))
	for _, p := range rows {
		got = append(got, p.Key.Address)
	}
	assert.Equal(t, []string{"2 elm street", "1 elm street"}, got)
}

func TestCatalogHistoryAndObservations(t *testing.T) {
	repo, id := seeded(t)
	c := NewCatalog(repo)
	ctx := context.Background()

	hist, err := c.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	obs, err := c.Observations(ctx, id)
	require.NoError(t, err)
	assert.Len(t, obs, 2)

	_, err = c.History(ctx, 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = c.Observations(ctx, 404)
	assert.ErrorIs(t, err, models.ErrNotFound)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.HighScore)

	runs, err := c.Runs(ctx, "", 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
}

func TestExportCSV(t *testing.T) {
	repo, _ := seeded(t)
	var buf bytes.Buffer

	n, err := NewExporter(repo).WriteCSV(context.Background(), &buf, models.Filters{State: "IL"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	col := map[string]int{}
	for i, h := range header {
		col[h] = i
	}
	assert.Equal(t, "id", header[0])
	for _, name := range []string{"address", "tax_delinquency_years", "condemned", "hazards", "abandonment_score", "data_sources", "last_sale_date"} {
		assert.Contains(t, col, name)
	}

	top := records[1]
	assert.Equal(t, "123 Main St", top[col["address"]])
	assert.Equal(t, "2", top[col["tax_delinquency_years"]])
	assert.Equal(t, "true", top[col["condemned"]])
	assert.Equal(t, "10", top[col["abandonment_score"]])
	assert.Equal(t, "county_tax;code_enforcement", top[col["data_sources"]])
	assert.Equal(t, "", top[col["year_built"]])
	assert.NotEmpty(t, top[col["id"]])

	assert.Equal(t, "2019-07-04", records[2][col["last_sale_date"]])
}

func TestExportCSVEmptyStillHasHeader(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewExporter(database.NewMemoryStore()).WriteCSV(context.Background(), &buf, models.Filters{})
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

type failingStream struct {
	*database.MemoryStore
}

func (failingStream) StreamByFilters(context.Context, models.Filters, func(models.CanonicalProperty) error) error {
	return models.Unavailable("stream by filters", errors.New("disk I/O error"))
}

func TestExportCSVPropagatesStorageErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewExporter(failingStream{database.NewMemoryStore()}).WriteCSV(context.Background(), &buf, models.Filters{})
	var uerr *models.RepositoryUnavailableError
	assert.True(t, errors.As(err, &uerr))
}

func TestKeyLockSerializesPerKey(t *testing.T) {
	l := NewKeyLock()
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			defer unlock()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
	assert.Zero(t, l.Len())
}

func TestKeyLockDifferentKeysDoNotContend(t *testing.T) {
	l := NewKeyLock()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.Equal(t, 1, l.Len())
	unlockA()
	assert.Zero(t, l.Len())
}
