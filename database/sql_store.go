// database/sql_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gewnthar/propcat/history"
	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/models"
)

// SQLStore is the repository over database/sql. Each Save runs in one transaction: the
// property upsert, its observation and its history rows commit or roll back together.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *logger.Logger

	columns   []column
	selectSQL string
	insertSQL string
	updateSQL string
}

type column struct {
	name      string
	updatable bool
	value     func(p *models.CanonicalProperty) (any, error)
}

// scanRow holds the columns that need decoding after Scan.
type scanRow struct {
	hazards     sql.NullString
	dataSources sql.NullString
	rejected    sql.NullString
	statusAt    sql.NullString
}

// NewSQLStore wraps an open pool. It does not create tables; see Migrate.
func NewSQLStore(db *sql.DB, dialect Dialect, log *logger.Logger) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect, log: logger.OrNop(log)}
	s.columns = propertyColumns()

	names := make([]string, len(s.columns))
	marks := make([]string, len(s.columns))
	var sets []string
	for i, c := range s.columns {
		names[i] = c.name
		marks[i] = "?"
		if c.updatable {
			sets = append(sets, c.name+" = ?")
		}
	}
	s.selectSQL = "SELECT id, " + strings.Join(names, ", ") + " FROM properties"
	s.insertSQL = "INSERT INTO properties (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	s.updateSQL = "UPDATE properties SET " + strings.Join(sets, ", ") + ", version = version + 1 WHERE id = ? AND version = ?"
	return s
}

func propertyColumns() []column {
	str := func(get func(p *models.CanonicalProperty) string) func(p *models.CanonicalProperty) (any, error) {
		return func(p *models.CanonicalProperty) (any, error) { return get(p), nil }
	}
	cols := []column{
		{"normalized_address", false, str(func(p *models.CanonicalProperty) string { return p.Key.Address })},
		{"normalized_city", false, str(func(p *models.CanonicalProperty) string { return p.Key.City })},
		{"normalized_state", false, str(func(p *models.CanonicalProperty) string { return p.Key.State })},
		{"address", true, str(func(p *models.CanonicalProperty) string { return p.Address })},
		{"unit", true, str(func(p *models.CanonicalProperty) string { return p.Unit })},
		{"city", true, str(func(p *models.CanonicalProperty) string { return p.City })},
		{"state", true, str(func(p *models.CanonicalProperty) string { return p.State })},
	}
	for _, f := range models.Fields {
		f := f
		cols = append(cols, column{f.Name, true, func(p *models.CanonicalProperty) (any, error) {
			v := f.Value(&p.Attributes)
			if tags, ok := v.([]string); ok {
				return jsonText(tags)
			}
			return v, nil
		}})
	}
	cols = append(cols,
		column{"abandonment_score", true, func(p *models.CanonicalProperty) (any, error) { return p.AbandonmentScore, nil }},
		column{"discovery_date", false, func(p *models.CanonicalProperty) (any, error) { return p.DiscoveryDate.UTC(), nil }},
		column{"last_updated", true, func(p *models.CanonicalProperty) (any, error) { return p.LastUpdated.UTC(), nil }},
		column{"status_observed_at", true, func(p *models.CanonicalProperty) (any, error) {
			if len(p.StatusObservedAt) == 0 {
				return nil, nil
			}
			return jsonText(p.StatusObservedAt)
		}},
		column{"data_sources", true, func(p *models.CanonicalProperty) (any, error) { return jsonText(p.DataSources) }},
		column{"rejected_values", true, func(p *models.CanonicalProperty) (any, error) {
			if len(p.RejectedValues) == 0 {
				return nil, nil
			}
			return jsonText(p.RejectedValues)
		}},
		column{"version", false, func(p *models.CanonicalProperty) (any, error) { return int64(1), nil }},
	)
	return cols
}

func jsonText(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// DB exposes the pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save upserts p, appends obs and writes one history row per change, atomically.
// A new property (ID 0) that collides with an existing key, or an update whose version is
// stale, returns models.ErrConflict. On success p.ID and p.Version are updated.
func (s *SQLStore) Save(ctx context.Context, p *models.CanonicalProperty, obs models.SourceObservation, changes []models.FieldChange) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, models.Unavailable("begin", err)
	}
	defer tx.Rollback()

	id, err := s.upsert(ctx, tx, p)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(obs.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal observation payload: %w", err)
	}
	var sourceURL sql.NullString
	if obs.SourceURL != "" {
		sourceURL = sql.NullString{String: obs.SourceURL, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO source_observations (id, property_id, source, source_url, observed_at, recorded_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, id, obs.Source, sourceURL, obs.ObservedAt.UTC(), obs.RecordedAt.UTC(), string(payload),
	)
	if err != nil {
		return 0, models.Unavailable("insert observation", err)
	}

	for _, e := range history.Record(id, changes, obs.Source, obs.RecordedAt) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO property_history (property_id, field_name, old_value, new_value, change_type, source, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.PropertyID, e.Field, e.OldValue, e.NewValue, string(e.ChangeType), e.Source, e.ChangedAt,
		)
		if err != nil {
			return 0, models.Unavailable("insert history", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, models.Unavailable("commit", err)
	}

	if p.ID == 0 {
		p.ID = id
		p.Version = 1
	} else {
		p.Version++
	}
	return id, nil
}

func (s *SQLStore) upsert(ctx context.Context, tx *sql.Tx, p *models.CanonicalProperty) (int64, error) {
	if p.ID == 0 {
		args, err := s.args(p, false)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, s.insertSQL, args...)
		if err != nil {
			if s.dialect.uniqueViolation(err) {
				return 0, models.ErrConflict
			}
			return 0, models.Unavailable("insert property", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, models.Unavailable("insert property", err)
		}
		return id, nil
	}

	args, err := s.args(p, true)
	if err != nil {
		return 0, err
	}
	args = append(args, p.ID, p.Version)
	res, err := tx.ExecContext(ctx, s.updateSQL, args...)
	if err != nil {
		return 0, models.Unavailable("update property", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.Unavailable("update property", err)
	}
	if n == 0 {
		return 0, models.ErrConflict
	}
	return p.ID, nil
}

func (s *SQLStore) args(p *models.CanonicalProperty, updateOnly bool) ([]any, error) {
	args := make([]any, 0, len(s.columns)+2)
	for _, c := range s.columns {
		if updateOnly && !c.updatable {
			continue
		}
		v, err := c.value(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode column %s: %w", c.name, err)
		}
		args = append(args, v)
	}
	return args, nil
}

// scanProperty reads one row produced by selectSQL.
func (s *SQLStore) scanProperty(row interface{ Scan(...any) error }) (models.CanonicalProperty, error) {
	var p models.CanonicalProperty
	var aux scanRow
	dest := []any{&p.ID, &p.Key.Address, &p.Key.City, &p.Key.State, &p.Address, &p.Unit, &p.City, &p.State}
	for _, f := range models.Fields {
		if f.Kind == models.KindTags {
			dest = append(dest, &aux.hazards)
			continue
		}
		dest = append(dest, f.Slot(&p.Attributes))
	}
	dest = append(dest, &p.AbandonmentScore, &p.DiscoveryDate, &p.LastUpdated, &aux.statusAt,
		&aux.dataSources, &aux.rejected, &p.Version)

	if err := row.Scan(dest...); err != nil {
		return models.CanonicalProperty{}, err
	}
	if aux.hazards.Valid && aux.hazards.String != "" {
		if err := json.Unmarshal([]byte(aux.hazards.String), &p.Hazards); err != nil {
			return models.CanonicalProperty{}, fmt.Errorf("failed to decode hazards: %w", err)
		}
	}
	if aux.dataSources.Valid && aux.dataSources.String != "" {
		if err := json.Unmarshal([]byte(aux.dataSources.String), &p.DataSources); err != nil {
			return models.CanonicalProperty{}, fmt.Errorf("failed to decode data_sources: %w", err)
		}
	}
	if aux.rejected.Valid && aux.rejected.String != "" {
		if err := json.Unmarshal([]byte(aux.rejected.String), &p.RejectedValues); err != nil {
			return models.CanonicalProperty{}, fmt.Errorf("failed to decode rejected_values: %w", err)
		}
	}
	if aux.statusAt.Valid && aux.statusAt.String != "" {
		if err := json.Unmarshal([]byte(aux.statusAt.String), &p.StatusObservedAt); err != nil {
			return models.CanonicalProperty{}, fmt.Errorf("failed to decode status_observed_at: %w", err)
		}
		for k, t := range p.StatusObservedAt {
			p.StatusObservedAt[k] = t.UTC()
		}
	}
	p.DiscoveryDate = p.DiscoveryDate.UTC()
	p.LastUpdated = p.LastUpdated.UTC()
	return p, nil
}

// FindByKey returns the property with exactly this identity key, or nil.
func (s *SQLStore) FindByKey(ctx context.Context, key models.IdentityKey) (*models.CanonicalProperty, error) {
	row := s.db.QueryRowContext(ctx, s.selectSQL+
		" WHERE normalized_address = ? AND normalized_city = ? AND normalized_state = ?",
		key.Address, key.City, key.State)
	p, err := s.scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Unavailable("find by key", err)
	}
	return &p, nil
}

// FindByID returns models.ErrNotFound when no property has this id.
func (s *SQLStore) FindByID(ctx context.Context, id int64) (*models.CanonicalProperty, error) {
	row := s.db.QueryRowContext(ctx, s.selectSQL+" WHERE id = ?", id)
	p, err := s.scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Unavailable("find by id", err)
	}
	return &p, nil
}

// FindByLocality returns every property in a normalized city and state, by id.
func (s *SQLStore) FindByLocality(ctx context.Context, city, state string) ([]models.CanonicalProperty, error) {
	return s.query(ctx, "find by locality",
		s.selectSQL+" WHERE normalized_city = ? AND normalized_state = ? ORDER BY id", city, state)
}

// FindByFilters returns matching properties, ordered by score, then last update, then id
// unless f.OrderBy says otherwise.
func (s *SQLStore) FindByFilters(ctx context.Context, f models.Filters) ([]models.CanonicalProperty, error) {
	query, args := s.filterQuery(f)
	return s.query(ctx, "find by filters", query, args...)
}

// StreamByFilters calls fn for each matching row without loading the whole result. fn must
// not call back into the store.
func (s *SQLStore) StreamByFilters(ctx context.Context, f models.Filters, fn func(models.CanonicalProperty) error) error {
	query, args := s.filterQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Unavailable("stream by filters", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := s.scanProperty(rows)
		if err != nil {
			return models.Unavailable("stream by filters", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return models.Unavailable("stream by filters", err)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, op, query string, args ...any) ([]models.CanonicalProperty, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Unavailable(op, err)
	}
	defer rows.Close()

	var out []models.CanonicalProperty
	for rows.Next() {
		p, err := s.scanProperty(rows)
		if err != nil {
			return nil, models.Unavailable(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable(op, err)
	}
	return out, nil
}

func (s *SQLStore) filterQuery(f models.Filters) (string, []any) {
	var where []string
	var args []any
	add := func(clause string, vals ...any) {
		where = append(where, clause)
		args = append(args, vals...)
	}

	if f.State != "" {
		add("normalized_state = ?", strings.ToLower(f.State))
	}
	if f.City != "" {
		add("normalized_city = ?", strings.ToLower(f.City))
	}
	if f.County != "" {
		add("LOWER(county) = ?", strings.ToLower(f.County))
	}
	if f.Status != "" {
		add("LOWER(status) = ?", strings.ToLower(f.Status))
	}
	if f.MinScore > 0 {
		add("abandonment_score >= ?", f.MinScore)
	}
	if f.TaxDelinquent != nil {
		add("tax_delinquent = ?", *f.TaxDelinquent)
	}
	if f.InForeclosure {
		clause, vals := activeForeclosureClause()
		add(clause, vals...)
	}
	if f.MinTaxYears > 0 {
		add("tax_delinquent = ? AND tax_delinquency_years >= ?", true, f.MinTaxYears)
	}
	if f.DemolitionDays > 0 {
		from, to := f.DemolitionWindow()
		add("demolition_scheduled = ? AND demolition_date >= ? AND demolition_date <= ?", true, from, to)
	}
	if f.Search != "" {
		address, city, owner := f.SearchTerms()
		add("(normalized_address LIKE ? OR normalized_city LIKE ? OR LOWER(owner_name) LIKE ?)",
			"%"+address+"%", "%"+city+"%", "%"+owner+"%")
	}

	query := s.selectSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.OrderBy {
	case models.OrderByLastUpdated:
		query += " ORDER BY last_updated DESC, id ASC"
	case models.OrderByDiscoveryDate:
		query += " ORDER BY discovery_date DESC, id ASC"
	case models.OrderByDemolitionDate:
		query += " ORDER BY demolition_date IS NULL, demolition_date ASC, id ASC"
	default:
		query += " ORDER BY abandonment_score DESC, last_updated DESC, id ASC"
	}
	if f.Limit > 0 || f.Offset > 0 {
		limit := int64(f.Limit)
		if limit <= 0 {
			limit = math.MaxInt64
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}
	return query, args
}

func activeForeclosureClause() (string, []any) {
	inactive := models.InactiveForeclosureStatuses()
	marks := make([]string, len(inactive))
	vals := make([]any, len(inactive))
	for i, v := range inactive {
		marks[i] = "?"
		vals[i] = v
	}
	return "(foreclosure_status IS NOT NULL AND TRIM(foreclosure_status) <> '' AND LOWER(TRIM(foreclosure_status)) NOT IN (" +
		strings.Join(marks, ", ") + "))", vals
}

// History returns the audit trail of a property, oldest first.
func (s *SQLStore) History(ctx context.Context, propertyID int64) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, field_name, old_value, new_value, change_type, source, changed_at
		FROM property_history
		WHERE property_id = ?
		ORDER BY changed_at, id`, propertyID)
	if err != nil {
		return nil, models.Unavailable("history", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.Field, &e.OldValue, &e.NewValue, &kind, &e.Source, &e.ChangedAt); err != nil {
			return nil, models.Unavailable("history", err)
		}
		e.ChangeType = models.ChangeKind(kind)
		e.ChangedAt = e.ChangedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("history", err)
	}
	return out, nil
}

// Observations returns every source report of a property, oldest first.
func (s *SQLStore) Observations(ctx context.Context, propertyID int64) ([]models.SourceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, source, source_url, observed_at, recorded_at, payload
		FROM source_observations
		WHERE property_id = ?
		ORDER BY recorded_at, id`, propertyID)
	if err != nil {
		return nil, models.Unavailable("observations", err)
	}
	defer rows.Close()

	var out []models.SourceObservation
	for rows.Next() {
		var o models.SourceObservation
		var sourceURL sql.NullString
		var payload string
		if err := rows.Scan(&o.ID, &o.PropertyID, &o.Source, &sourceURL, &o.ObservedAt, &o.RecordedAt, &payload); err != nil {
			return nil, models.Unavailable("observations", err)
		}
		o.SourceURL = sourceURL.String
		o.ObservedAt = o.ObservedAt.UTC()
		o.RecordedAt = o.RecordedAt.UTC()
		if err := json.Unmarshal([]byte(payload), &o.Payload); err != nil {
			s.log.Warn("undecodable observation payload", "observation_id", o.ID, "error", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("observations", err)
	}
	return out, nil
}

// Stats aggregates catalog counters.
func (s *SQLStore) Stats(ctx context.Context) (models.Stats, error) {
	foreclosure, vals := activeForeclosureClause()
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN LOWER(status) = 'abandoned' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tax_delinquent = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN condemned = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN abandonment_score >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(abandonment_score), 0)
		FROM properties`, foreclosure)
	args := append(vals, models.HighScoreThreshold)

	var st models.Stats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.Total, &st.Abandoned, &st.InForeclosure, &st.TaxDelinquent, &st.Condemned, &st.HighScore, &st.AverageScore)
	if err != nil {
		return models.Stats{}, models.Unavailable("stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT normalized_state, COUNT(*) FROM properties GROUP BY normalized_state`)
	if err != nil {
		return models.Stats{}, models.Unavailable("stats", err)
	}
	defer rows.Close()
	st.ByState = map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return models.Stats{}, models.Unavailable("stats", err)
		}
		st.ByState[state] = n
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, models.Unavailable("stats", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM property_history`).Scan(&st.HistoryEntries); err != nil {
		return models.Stats{}, models.Unavailable("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_observations`).Scan(&st.Observations); err != nil {
		return models.Stats{}, models.Unavailable("stats", err)
	}
	return st, nil
}

var now = func() time.Time { return time.Now().UTC() }
