// database/memory_store.go
package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gewnthar/propcat/history"
	"github.com/gewnthar/propcat/models"
)

// MemoryStore is an in-process repository with the same contract as SQLStore. Used for
// tests and dry runs.
type MemoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	nextEntry    int64
	byID         map[int64]models.CanonicalProperty
	byKey        map[models.IdentityKey]int64
	observations map[int64][]models.SourceObservation
	history      map[int64][]models.HistoryEntry
	runs         []models.ScraperRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[int64]models.CanonicalProperty),
		byKey:        make(map[models.IdentityKey]int64),
		observations: make(map[int64][]models.SourceObservation),
		history:      make(map[int64][]models.HistoryEntry),
	}
}

func (m *MemoryStore) Save(_ context.Context, p *models.CanonicalProperty, obs models.SourceObservation, changes []models.FieldChange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID
	stored := p.Clone()
	if id == 0 {
		if _, exists := m.byKey[p.Key]; exists {
			return 0, models.ErrConflict
		}
		m.nextID++
		id = m.nextID
		stored.ID = id
		stored.Version = 1
	} else {
		cur, ok := m.byID[id]
		if !ok || cur.Version != p.Version {
			return 0, models.ErrConflict
		}
		stored.Key = cur.Key
		stored.DiscoveryDate = cur.DiscoveryDate
		stored.Version = cur.Version + 1
	}

	m.byID[id] = stored
	m.byKey[stored.Key] = id

	obs.PropertyID = id
	m.observations[id] = append(m.observations[id], obs)
	for _, e := range history.Record(id, changes, obs.Source, obs.RecordedAt) {
		m.nextEntry++
		e.ID = m.nextEntry
		m.history[id] = append(m.history[id], e)
	}

	p.ID = id
	p.Version = stored.Version
	return id, nil
}

func (m *MemoryStore) FindByKey(_ context.Context, key models.IdentityKey) (*models.CanonicalProperty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	p := m.byID[id].Clone()
	return &p, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (*models.CanonicalProperty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	p = p.Clone()
	return &p, nil
}

func (m *MemoryStore) FindByLocality(_ context.Context, city, state string) ([]models.CanonicalProperty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CanonicalProperty
	for _, p := range m.byID {
		if p.Key.City == city && p.Key.State == state {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) FindByFilters(_ context.Context, f models.Filters) ([]models.CanonicalProperty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CanonicalProperty
	for _, p := range m.byID {
		if f.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return f.Less(out[i], out[j]) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) StreamByFilters(ctx context.Context, f models.Filters, fn func(models.CanonicalProperty) error) error {
	rows, err := m.FindByFilters(ctx, f)
	if err != nil {
		return err
	}
	for _, p := range rows {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) History(_ context.Context, propertyID int64) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.HistoryEntry(nil), m.history[propertyID]...), nil
}

func (m *MemoryStore) Observations(_ context.Context, propertyID int64) ([]models.SourceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.SourceObservation(nil), m.observations[propertyID]...), nil
}

func (m *MemoryStore) Stats(_ context.Context) (models.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := models.Stats{ByState: map[string]int{}}
	sum := 0
	for _, p := range m.byID {
		st.Total++
		sum += p.AbandonmentScore
		st.ByState[p.Key.State]++
		if p.Status != nil && strings.EqualFold(*p.Status, "abandoned") {
			st.Abandoned++
		}
		if models.IsActiveForeclosure(p.ForeclosureStatus) {
			st.InForeclosure++
		}
		if p.TaxDelinquent != nil && *p.TaxDelinquent {
			st.TaxDelinquent++
		}
		if p.Condemned != nil && *p.Condemned {
			st.Condemned++
		}
		if p.AbandonmentScore >= models.HighScoreThreshold {
			st.HighScore++
		}
	}
	if st.Total > 0 {
		st.AverageScore = float64(sum) / float64(st.Total)
	}
	for _, h := range m.history {
		st.HistoryEntries += len(h)
	}
	for _, o := range m.observations {
		st.Observations += len(o)
	}
	return st, nil
}

func (m *MemoryStore) LogRun(_ context.Context, run models.ScraperRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns logged runs, newest first.
func (m *MemoryStore) Runs(_ context.Context, source string, limit int) ([]models.ScraperRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ScraperRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if source == "" || m.runs[i].Source == source {
			out = append(out, m.runs[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
