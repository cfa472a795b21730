// models/record.go
package models

import (
	"time"

	"github.com/gewnthar/propcat/utils"
)

// RawRecord is what a collector hands to the engine: a flat map of field name to scalar
// value plus provenance. Unknown field names are kept only in the observation payload.
type RawRecord struct {
	Source     string         `json:"source"`
	SourceURL  string         `json:"source_url,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	Fields     map[string]any `json:"fields"`
}

// NormalizedRecord is a RawRecord after the normalizer: identity key, typed slots, and the
// untouched payload for provenance.
type NormalizedRecord struct {
	Key IdentityKey

	Address string
	Unit    string
	City    string
	State   string

	Attributes

	Source        string
	SourceURL     string
	ObservedAt    time.Time
	Payload       map[string]any
	LowConfidence bool     // no city; matching is weaker
	Warnings      []string // values dropped during parsing
}

// GeocodeQuery renders the address the way geocoding providers expect it.
func (r NormalizedRecord) GeocodeQuery() string {
	q := r.Key.Address
	if r.Key.City != "" {
		q += ", " + r.Key.City
	}
	return q + ", " + utils.NormalizeStateCode(r.Key.State)
}

// SourceObservation is one source's report about one property. Appended, never mutated.
type SourceObservation struct {
	ID         string         `json:"id"`
	PropertyID int64          `json:"property_id"`
	Source     string         `json:"source"`
	SourceURL  string         `json:"source_url,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	RecordedAt time.Time      `json:"recorded_at"`
	Payload    map[string]any `json:"payload"`
}
