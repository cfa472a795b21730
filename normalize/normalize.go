// normalize/normalize.go
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/utils"
)

// Normalize turns a collector record into an identity key plus typed attribute slots.
// It is pure: the same RawRecord always yields the same NormalizedRecord.
//
// Address and state are required. Known fields with values that cannot be parsed are
// dropped and listed in Warnings. Unknown fields are kept only in Payload.
func Normalize(raw models.RawRecord) (models.NormalizedRecord, error) {
	rec := models.NormalizedRecord{
		Source:     strings.TrimSpace(raw.Source),
		SourceURL:  strings.TrimSpace(raw.SourceURL),
		ObservedAt: raw.ObservedAt.UTC(),
		Payload:    make(map[string]any, len(raw.Fields)),
	}

	// Canonical names in sorted order so alias collisions resolve the same way every time.
	byName := make(map[string]any, len(raw.Fields))
	names := make([]string, 0, len(raw.Fields))
	for k := range raw.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		v := raw.Fields[k]
		rec.Payload[k] = v
		name := CanonicalName(k)
		if _, seen := byName[name]; seen && isBlank(v) {
			continue
		}
		byName[name] = v
	}

	rec.Address = stringValue(byName[fieldAddress])
	rec.City = stringValue(byName[fieldCity])
	rec.State = stringValue(byName[fieldState])

	address, unit := Address(rec.Address)
	if address == "" {
		return models.NormalizedRecord{}, &models.ValidationError{Field: fieldAddress, Reason: "is empty"}
	}
	state := utils.NormalizeStateCode(rec.State)
	if state == "" {
		return models.NormalizedRecord{}, &models.ValidationError{Field: fieldState, Reason: "is empty"}
	}
	if !utils.IsStateCode(state) {
		return models.NormalizedRecord{}, &models.ValidationError{Field: fieldState, Reason: fmt.Sprintf("%q is not a US state", rec.State)}
	}
	city := City(rec.City)

	rec.Unit = unit
	if u, ok := byName["unit"]; ok && rec.Unit == "" {
		rec.Unit = Text(stringValue(u))
	}
	rec.Key = models.IdentityKey{Address: address, City: city, State: strings.ToLower(state)}
	rec.LowConfidence = city == ""

	for _, def := range models.Fields {
		v, ok := byName[def.Name]
		if !ok {
			continue
		}
		if err := assign(def, &rec.Attributes, v, rec.ObservedAt); err != nil {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("%s: %v", def.Name, err))
		}
	}
	return rec, nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func isBlank(v any) bool {
	return strings.TrimSpace(stringValue(v)) == ""
}

// Filters brings the free-text parts of a catalog filter into the forms the identity key
// and attributes are stored in, so "Illinois", "IL" and "il" select the same rows.
func Filters(f models.Filters) models.Filters {
	if f.State != "" {
		f.State = strings.ToLower(utils.NormalizeStateCode(f.State))
	}
	if f.City != "" {
		f.City = City(f.City)
	}
	f.County = Text(f.County)
	f.Status = Text(f.Status)
	if raw := strings.TrimSpace(f.Search); raw != "" {
		address, _ := Address(raw)
		if address == "" {
			address = Text(raw)
		}
		f.Search = address
		f.SearchCity = City(raw)
		f.SearchOwner = Text(raw)
	}
	return f
}
