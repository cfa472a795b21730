// merge/merge.go
package merge

import (
	"cmp"
	"fmt"
	"sort"
	"time"

	"github.com/gewnthar/propcat/history"
	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/score"
)

// Merge reconciles an observation with the existing canonical state of its property.
//
// With no existing property it builds a new one (discovery and last-updated set to now)
// and returns no changes. Otherwise every non-null observed field is applied under its
// policy; each stored value that differs afterwards yields one change, and each rejected
// value yields one discrepancy. The score is always recomputed and, when it moves, is
// reported as a change of its own.
func Merge(existing *models.CanonicalProperty, obs models.NormalizedRecord, source string, now time.Time) (models.CanonicalProperty, []models.FieldChange) {
	now = now.UTC()
	if existing == nil {
		return create(obs, source, now), nil
	}

	next := existing.Clone()
	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	var changes []models.FieldChange
	for _, def := range models.Fields {
		policy := PolicyFor(def.Name)
		if policy == Status && models.SlotValue(def.Slot(&obs.Attributes)) != nil {
			if !statusWins(&next, def, observedAt) {
				continue
			}
			markStatus(&next, def.Name, observedAt)
		}
		c, ok := apply(def, policy, &next.Attributes, &obs.Attributes)
		if !ok {
			continue
		}
		if c.Kind == models.ChangeKindDiscrepancy {
			if !noteRejected(&next, c) {
				continue
			}
		} else {
			delete(next.RejectedValues, c.Field)
		}
		changes = append(changes, c)
	}
	addSource(&next, source)

	if models.HasStateChanges(changes) {
		next.LastUpdated = now
	}
	oldScore := existing.AbandonmentScore
	next.AbandonmentScore = score.Score(next)
	if next.AbandonmentScore != oldScore {
		if !next.LastUpdated.Equal(now) {
			// A stale stored score is itself a change to state.
			next.LastUpdated = now
			next.AbandonmentScore = score.Score(next)
		}
		if next.AbandonmentScore != oldScore {
			changes = append(changes, models.FieldChange{
				Field: models.FieldAbandonmentScore,
				Old:   oldScore,
				New:   next.AbandonmentScore,
				Kind:  models.ChangeKindChanged,
			})
		}
	}
	return next, changes
}

func create(obs models.NormalizedRecord, source string, now time.Time) models.CanonicalProperty {
	p := models.CanonicalProperty{
		Key:           obs.Key,
		Address:       obs.Address,
		Unit:          obs.Unit,
		City:          obs.City,
		State:         obs.State,
		DiscoveryDate: now,
		LastUpdated:   now,
	}
	// Copy through apply so the new property owns its slices.
	for _, def := range models.Fields {
		apply(def, Overwrite, &p.Attributes, &obs.Attributes)
	}
	at := obs.ObservedAt
	if at.IsZero() {
		at = now
	}
	for _, def := range models.Fields {
		if PolicyFor(def.Name) == Status && models.SlotValue(def.Slot(&obs.Attributes)) != nil {
			markStatus(&p, def.Name, at)
		}
	}
	addSource(&p, source)
	p.AbandonmentScore = score.Score(p)
	return p
}

// statusWins reports whether an observation made at observedAt may set a status field.
// An unset field takes any value; a set one only yields to an observation at least as
// recent as the one that set it.
func statusWins(p *models.CanonicalProperty, def models.FieldDef, observedAt time.Time) bool {
	if models.SlotValue(def.Slot(&p.Attributes)) == nil {
		return true
	}
	at, ok := p.StatusObservedAt[def.Name]
	return !ok || !observedAt.Before(at)
}

func markStatus(p *models.CanonicalProperty, field string, observedAt time.Time) {
	if p.StatusObservedAt == nil {
		p.StatusObservedAt = make(map[string]time.Time)
	}
	p.StatusObservedAt[field] = observedAt
}

// noteRejected remembers the rejected value of a discrepancy. It reports false when the
// same value was already the last one rejected for that field.
func noteRejected(p *models.CanonicalProperty, c models.FieldChange) bool {
	v := history.FormatValue(c.New)
	if v == nil {
		return false
	}
	if prev, ok := p.RejectedValues[c.Field]; ok && prev == *v {
		return false
	}
	if p.RejectedValues == nil {
		p.RejectedValues = make(map[string]string)
	}
	p.RejectedValues[c.Field] = *v
	return true
}

func addSource(p *models.CanonicalProperty, source string) {
	if source == "" || p.HasSource(source) {
		return
	}
	p.DataSources = append(p.DataSources, source)
}

// apply reconciles one field. It returns the resulting change, if any.
func apply(def models.FieldDef, policy Policy, cur, in *models.Attributes) (models.FieldChange, bool) {
	switch dst := def.Slot(cur).(type) {
	case **string:
		return applyScalar(def.Name, policy, dst, *def.Slot(in).(**string), eq[string], less[string])
	case **int:
		return applyScalar(def.Name, policy, dst, *def.Slot(in).(**int), eq[int], less[int])
	case **float64:
		return applyScalar(def.Name, policy, dst, *def.Slot(in).(**float64), eq[float64], less[float64])
	case **bool:
		return applyScalar(def.Name, policy, dst, *def.Slot(in).(**bool), eq[bool], nil)
	case **time.Time:
		return applyScalar(def.Name, policy, dst, *def.Slot(in).(**time.Time), time.Time.Equal, time.Time.Before)
	case *[]string:
		return applyTags(def.Name, policy, dst, *def.Slot(in).(*[]string))
	}
	panic(fmt.Sprintf("merge: unsupported slot type for %s", def.Name))
}

func eq[T comparable](a, b T) bool { return a == b }

func less[T cmp.Ordered](a, b T) bool { return a < b }

func applyScalar[T any](field string, policy Policy, dst **T, in *T, equal func(a, b T) bool, lower func(a, b T) bool) (models.FieldChange, bool) {
	if in == nil {
		return models.FieldChange{}, false
	}
	old := *dst
	if old != nil && equal(*old, *in) {
		return models.FieldChange{}, false
	}

	switch policy {
	case Monotonic:
		if old != nil && lower != nil && lower(*in, *old) {
			return discrepancy(field, *old, *in), true
		}
	case Immutable:
		if old != nil {
			return discrepancy(field, *old, *in), true
		}
	}

	v := *in
	*dst = &v
	var oldValue any
	if old != nil {
		oldValue = *old
	}
	return models.FieldChange{Field: field, Old: oldValue, New: v, Kind: models.ChangeKindChanged}, true
}

func applyTags(field string, policy Policy, dst *[]string, in []string) (models.FieldChange, bool) {
	if len(in) == 0 {
		return models.FieldChange{}, false
	}
	old := *dst
	var merged []string
	if policy == Union {
		merged = union(old, in)
	} else {
		merged = union(nil, in)
	}
	if sameTags(old, merged) {
		return models.FieldChange{}, false
	}
	*dst = merged
	var oldValue any
	if len(old) > 0 {
		oldValue = append([]string(nil), old...)
	}
	return models.FieldChange{Field: field, Old: oldValue, New: append([]string(nil), merged...), Kind: models.ChangeKindChanged}, true
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func discrepancy(field string, kept, rejected any) models.FieldChange {
	return models.FieldChange{Field: field, Old: kept, New: rejected, Kind: models.ChangeKindDiscrepancy}
}
