// services/catalog.go
package services

import (
	"context"
	"time"

	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/normalize"
	"github.com/gewnthar/propcat/score"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// PropertyDetail is a property together with the rules behind its score.
type PropertyDetail struct {
	models.CanonicalProperty
	ScoreBreakdown []score.Contribution `json:"score_breakdown"`
}

// Catalog is the read side of the property catalog.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// Search returns one page of matching properties. The page size is clamped to
// [1, MaxPageSize] and defaults to DefaultPageSize.
func (c *Catalog) Search(ctx context.Context, f models.Filters) ([]models.CanonicalProperty, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	rows, err := c.repo.FindByFilters(ctx, prepareFilters(f))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.CanonicalProperty{}
	}
	return rows, nil
}

// prepareFilters normalizes f and pins the demolition window to today unless the caller
// already did.
func prepareFilters(f models.Filters) models.Filters {
	f = normalize.Filters(f)
	if f.Today.IsZero() {
		f.Today = time.Now().UTC()
	}
	return f
}

// Get returns models.ErrNotFound for an unknown id.
func (c *Catalog) Get(ctx context.Context, id int64) (PropertyDetail, error) {
	p, err := c.repo.FindByID(ctx, id)
	if err != nil {
		return PropertyDetail{}, err
	}
	breakdown := score.Breakdown(*p)
	if breakdown == nil {
		breakdown = []score.Contribution{}
	}
	return PropertyDetail{CanonicalProperty: *p, ScoreBreakdown: breakdown}, nil
}

// History returns models.ErrNotFound for an unknown id, and an empty list for a property
// that has never changed.
func (c *Catalog) History(ctx context.Context, id int64) ([]models.HistoryEntry, error) {
	if _, err := c.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	entries, err := c.repo.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

func (c *Catalog) Observations(ctx context.Context, id int64) ([]models.SourceObservation, error) {
	if _, err := c.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	obs, err := c.repo.Observations(ctx, id)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = []models.SourceObservation{}
	}
	return obs, nil
}

func (c *Catalog) Stats(ctx context.Context) (models.Stats, error) {
	return c.repo.Stats(ctx)
}

func (c *Catalog) Runs(ctx context.Context, source string, limit int) ([]models.ScraperRun, error) {
	runs, err := c.repo.Runs(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.ScraperRun{}
	}
	return runs, nil
}
