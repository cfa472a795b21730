// database/run_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gewnthar/propcat/models"
)

// LogRun persists the report of one collector batch.
func (s *SQLStore) LogRun(ctx context.Context, run models.ScraperRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = now()
	}
	var errs sql.NullString
	if len(run.Errors) > 0 {
		b, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal run errors: %w", err)
		}
		errs = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraper_runs (
			id, source, started_at, finished_at, status,
			found, added, updated, unchanged, skipped, failed, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(run.Status),
		run.Found, run.Added, run.Updated, run.Unchanged, run.Skipped, run.Failed, errs,
	)
	if err != nil {
		s.log.Error("failed to log scraper run", "source", run.Source, "error", err)
		return models.Unavailable("log run", err)
	}
	s.log.Debug("scraper run logged", "source", run.Source, "status", run.Status, "found", run.Found)
	return nil
}

// Runs returns the most recent batch reports, newest first. source may be empty.
func (s *SQLStore) Runs(ctx context.Context, source string, limit int) ([]models.ScraperRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, source, started_at, finished_at, status,
		       found, added, updated, unchanged, skipped, failed, errors
		FROM scraper_runs`
	var args []any
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY started_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Unavailable("runs", err)
	}
	defer rows.Close()

	var runs []models.ScraperRun
	for rows.Next() {
		var r models.ScraperRun
		var status string
		var errs sql.NullString
		err := rows.Scan(&r.ID, &r.Source, &r.StartedAt, &r.FinishedAt, &status,
			&r.Found, &r.Added, &r.Updated, &r.Unchanged, &r.Skipped, &r.Failed, &errs)
		if err != nil {
			return nil, models.Unavailable("runs", err)
		}
		r.Status = models.RunStatus(status)
		r.StartedAt = r.StartedAt.UTC()
		r.FinishedAt = r.FinishedAt.UTC()
		if errs.Valid {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				s.log.Warn("undecodable run errors", "run_id", r.ID, "error", err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("runs", err)
	}
	return runs, nil
}
