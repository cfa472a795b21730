package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncIngested("county_tax", OutcomeCreated)
	m.IncIngested("county_tax", OutcomeCreated)
	m.IncIngested("county_tax", OutcomeSkipped)
	m.IncDiscrepancy("year_built")
	m.IncGeocode(GeocodeMiss)
	m.ConflictRetries.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsIngested.WithLabelValues("county_tax", OutcomeCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsIngested.WithLabelValues("county_tax", OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Discrepancies.WithLabelValues("year_built")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GeocodeLookups.WithLabelValues(GeocodeMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictRetries))
}

func TestHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSave(time.Now())
	m.ObserveBatch(3 * time.Second)

	n, err := testutil.GatherAndCount(reg, "propcat_save_duration_seconds", "propcat_batch_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegistriesAreIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop()
		Nop()
	})
}
