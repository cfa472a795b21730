// metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RecordsIngested.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics tracks the ingest pipeline.
type Metrics struct {
	RecordsIngested  *prometheus.CounterVec
	ConflictRetries  prometheus.Counter
	Discrepancies    *prometheus.CounterVec
	FuzzyMatches     prometheus.Counter
	GeocodeLookups   *prometheus.CounterVec
	SaveDuration     prometheus.Histogram
	BatchRunDuration prometheus.Histogram
}

// New registers all collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "propcat_records_ingested_total",
			Help: "Records processed by the ingest engine, by source and outcome",
		}, []string{"source", "outcome"}),
		ConflictRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "propcat_conflict_retries_total",
			Help: "Saves retried after losing a race on the identity key",
		}),
		Discrepancies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "propcat_discrepancies_total",
			Help: "Incoming values rejected by the monotonic or immutable merge policy",
		}, []string{"field"}),
		FuzzyMatches: f.NewCounter(prometheus.CounterOpts{
			Name: "propcat_fuzzy_matches_total",
			Help: "Records resolved to an existing property by the fuzzy pass",
		}),
		GeocodeLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "propcat_geocode_lookups_total",
			Help: "Geocoding lookups by result (hit, miss, error)",
		}, []string{"result"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "propcat_save_duration_seconds",
			Help:    "Duration of Repository.Save calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		BatchRunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "propcat_batch_run_duration_seconds",
			Help:    "Duration of one collector batch",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Nop returns metrics registered on a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncIngested(source, outcome string) {
	m.RecordsIngested.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) IncDiscrepancy(field string) {
	m.Discrepancies.WithLabelValues(field).Inc()
}

// ObserveSave records the duration of a save. Call with time.Now() taken before the save.
func (m *Metrics) ObserveSave(start time.Time) {
	m.SaveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	m.BatchRunDuration.Observe(d.Seconds())
}

// Geocode lookup results.
const (
	GeocodeHit   = "hit"
	GeocodeMiss  = "miss"
	GeocodeError = "error"
)

func (m *Metrics) IncGeocode(result string) {
	m.GeocodeLookups.WithLabelValues(result).Inc()
}
