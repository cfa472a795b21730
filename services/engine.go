// services/engine.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gewnthar/propcat/geocode"
	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/merge"
	"github.com/gewnthar/propcat/metrics"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/normalize"
	"github.com/gewnthar/propcat/resolver"
)

const (
	defaultWorkers = 4
	maxRunErrors   = 50
)

// Options controls how a record is matched.
type Options struct {
	Fuzzy bool
}

// IngestResult describes what one record did to the catalog.
type IngestResult struct {
	PropertyID    int64                `json:"property_id"`
	Outcome       string               `json:"outcome"` // metrics.Outcome*
	Match         string               `json:"match"`
	Score         int                  `json:"score"`
	Changes       []models.FieldChange `json:"changes,omitempty"`
	Discrepancies int                  `json:"discrepancies"`
	Retried       bool                 `json:"retried"`
	Warnings      []string             `json:"warnings,omitempty"`
}

// Engine runs the ingest pipeline: normalize, geocode, lock the identity key, resolve,
// merge and save.
type Engine struct {
	repo     Repository
	resolver *resolver.Resolver
	geocoder geocode.Geocoder
	locks    *KeyLock
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	workers  int
}

type EngineOption func(*Engine)

// WithGeocoder enables coordinate lookup for records that arrive without them.
func WithGeocoder(g geocode.Geocoder) EngineOption {
	return func(e *Engine) { e.geocoder = g }
}

func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock replaces time.Now for merge timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithWorkers bounds batch parallelism.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithThreshold sets the fuzzy match threshold.
func WithThreshold(t float64) EngineOption {
	return func(e *Engine) { e.resolver = resolver.New(e.repo, t) }
}

func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:     repo,
		resolver: resolver.New(repo, resolver.DefaultThreshold),
		locks:    NewKeyLock(),
		log:      logger.Nop(),
		metrics:  metrics.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Ingest applies one collector record to the catalog.
//
// A record that fails normalization returns a *models.ValidationError and persists
// nothing. A save that loses a race on its identity key is retried once from the
// resolve step; a second loss returns *models.ConflictRetryError. Storage faults surface
// as *models.RepositoryUnavailableError and are not retried.
func (e *Engine) Ingest(ctx context.Context, raw models.RawRecord, opts Options) (IngestResult, error) {
	if raw.ObservedAt.IsZero() {
		raw.ObservedAt = e.now()
	}
	rec, err := normalize.Normalize(raw)
	if err == nil && rec.Source == "" {
		err = &models.ValidationError{Field: "source", Reason: "is empty"}
	}
	if err != nil {
		e.metrics.IncIngested(raw.Source, metrics.OutcomeSkipped)
		e.log.Debug("record rejected", "source", raw.Source, "error", err)
		return IngestResult{}, err
	}
	for _, w := range rec.Warnings {
		e.log.Warn("field value dropped", "source", rec.Source, "key", rec.Key.String(), "warning", w)
	}

	e.enrich(ctx, &rec)

	unlock := e.locks.Lock(rec.Key.String())
	defer unlock()

	res, err := e.apply(ctx, rec, opts)
	if errors.Is(err, models.ErrConflict) {
		e.metrics.ConflictRetries.Inc()
		e.log.Info("save conflict, retrying", "key", rec.Key.String(), "source", rec.Source)
		res, err = e.apply(ctx, rec, opts)
		res.Retried = true
		if errors.Is(err, models.ErrConflict) {
			err = &models.ConflictRetryError{Key: rec.Key, Err: err}
		}
	}
	if err != nil {
		e.metrics.IncIngested(rec.Source, metrics.OutcomeFailed)
		e.log.Error("failed to ingest record", "key", rec.Key.String(), "source", rec.Source, "error", err)
		return IngestResult{}, err
	}
	res.Warnings = rec.Warnings
	e.metrics.IncIngested(rec.Source, res.Outcome)
	return res, nil
}

// apply runs resolve, merge and save once.
func (e *Engine) apply(ctx context.Context, rec models.NormalizedRecord, opts Options) (IngestResult, error) {
	existing, match, err := e.resolver.Resolve(ctx, rec.Key, resolver.Options{Fuzzy: opts.Fuzzy})
	if err != nil {
		return IngestResult{}, err
	}
	if match == resolver.FuzzyMatch {
		e.metrics.FuzzyMatches.Inc()
		e.log.Info("fuzzy match", "incoming", rec.Key.String(), "matched", existing.Key.String(), "property_id", existing.ID)
	}

	now := e.now()
	next, changes := merge.Merge(existing, rec, rec.Source, now)

	obs := models.SourceObservation{
		ID:         uuid.NewString(),
		Source:     rec.Source,
		SourceURL:  rec.SourceURL,
		ObservedAt: rec.ObservedAt,
		RecordedAt: now,
		Payload:    rec.Payload,
	}
	start := time.Now()
	id, err := e.repo.Save(ctx, &next, obs, changes)
	e.metrics.ObserveSave(start)
	if err != nil {
		return IngestResult{}, err
	}

	res := IngestResult{
		PropertyID: id,
		Match:      match.String(),
		Score:      next.AbandonmentScore,
		Changes:    changes,
	}
	switch {
	case existing == nil:
		res.Outcome = metrics.OutcomeCreated
	case models.HasStateChanges(changes):
		res.Outcome = metrics.OutcomeUpdated
	default:
		res.Outcome = metrics.OutcomeUnchanged
	}
	for _, c := range changes {
		if c.Kind != models.ChangeKindDiscrepancy {
			continue
		}
		res.Discrepancies++
		e.metrics.IncDiscrepancy(c.Field)
		e.log.Warn("discrepancy: incoming value rejected",
			"property_id", id, "field", c.Field, "kept", c.Old, "rejected", c.New, "source", rec.Source)
	}
	return res, nil
}

// enrich fills coordinates from the geocoder. Failures only cost the coordinates.
func (e *Engine) enrich(ctx context.Context, rec *models.NormalizedRecord) {
	if e.geocoder == nil || rec.Latitude != nil || rec.Longitude != nil {
		return
	}
	res, err := e.geocoder.Geocode(ctx, rec.GeocodeQuery())
	if err != nil {
		e.log.Warn("geocoding failed", "key", rec.Key.String(), "error", err)
		return
	}
	if res == nil {
		return
	}
	lat, lng := res.Lat, res.Lng
	rec.Latitude = &lat
	rec.Longitude = &lng
	if rec.FormattedAddress == nil && res.FormattedAddress != "" {
		formatted := res.FormattedAddress
		rec.FormattedAddress = &formatted
	}
}

// IngestBatch ingests records from one collector run with bounded parallelism and logs the
// run. A bad record is counted and reported, never fatal to the batch; only a cancelled
// context stops it early.
func (e *Engine) IngestBatch(ctx context.Context, source string, records []models.RawRecord, opts Options) (models.ScraperRun, error) {
	run := models.ScraperRun{
		ID:        uuid.NewString(),
		Source:    source,
		StartedAt: e.now(),
		Found:     len(records),
	}
	e.log.Info("batch started", "source", source, "records", len(records))

	var mu sync.Mutex
	errs := make([]string, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, raw := range records {
		if gctx.Err() != nil {
			break
		}
		if raw.Source == "" {
			raw.Source = source
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Ingest(gctx, raw, opts)

			mu.Lock()
			defer mu.Unlock()
			var verr *models.ValidationError
			switch {
			case errors.As(err, &verr):
				run.Skipped++
				errs[i] = fmt.Sprintf("record %d: %v", i+1, err)
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				run.Failed++
				errs[i] = fmt.Sprintf("record %d: %v", i+1, err)
			case res.Outcome == metrics.OutcomeCreated:
				run.Added++
			case res.Outcome == metrics.OutcomeUpdated:
				run.Updated++
			default:
				run.Unchanged++
			}
			return nil
		})
	}
	waitErr := g.Wait()
	if waitErr == nil {
		waitErr = ctx.Err()
	}

	for _, msg := range errs {
		if msg == "" {
			continue
		}
		if len(run.Errors) == maxRunErrors {
			run.Errors = append(run.Errors, "further errors omitted")
			break
		}
		run.Errors = append(run.Errors, msg)
	}
	run.FinishedAt = e.now()
	run.Status = runStatus(run, waitErr)
	e.metrics.ObserveBatch(run.Duration())

	// The report is written even when the batch was cancelled.
	if err := e.repo.LogRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.Error("failed to log batch run", "source", source, "error", err)
	}
	e.log.Info("batch finished", "source", source, "status", run.Status,
		"added", run.Added, "updated", run.Updated, "unchanged", run.Unchanged,
		"skipped", run.Skipped, "failed", run.Failed, "duration", run.Duration())
	return run, waitErr
}

func runStatus(run models.ScraperRun, err error) models.RunStatus {
	applied := run.Added + run.Updated + run.Unchanged
	switch {
	case err != nil && applied == 0:
		return models.RunFailure
	case run.Found > 0 && applied == 0:
		return models.RunFailure
	case err != nil || run.Skipped > 0 || run.Failed > 0:
		return models.RunPartial
	}
	return models.RunSuccess
}
