// services/repository.go
package services

import (
	"context"

	"github.com/gewnthar/propcat/models"
)

// Repository is the storage contract the services depend on. database.SQLStore and
// database.MemoryStore implement it.
type Repository interface {
	FindByKey(ctx context.Context, key models.IdentityKey) (*models.CanonicalProperty, error)
	FindByLocality(ctx context.Context, city, state string) ([]models.CanonicalProperty, error)
	FindByID(ctx context.Context, id int64) (*models.CanonicalProperty, error)
	FindByFilters(ctx context.Context, f models.Filters) ([]models.CanonicalProperty, error)
	StreamByFilters(ctx context.Context, f models.Filters, fn func(models.CanonicalProperty) error) error

	// Save persists p with its observation and history atomically. See database.SQLStore.Save.
	Save(ctx context.Context, p *models.CanonicalProperty, obs models.SourceObservation, changes []models.FieldChange) (int64, error)

	History(ctx context.Context, propertyID int64) ([]models.HistoryEntry, error)
	Observations(ctx context.Context, propertyID int64) ([]models.SourceObservation, error)
	Stats(ctx context.Context) (models.Stats, error)

	LogRun(ctx context.Context, run models.ScraperRun) error
	Runs(ctx context.Context, source string, limit int) ([]models.ScraperRun, error)
}
