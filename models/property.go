// models/property.go
package models

import (
	"sort"
	"strings"
	"time"
)

// IdentityKey is the normalized (address, city, state) tuple that decides whether two
// records describe the same physical property. It never changes once a property exists.
type IdentityKey struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
}

func (k IdentityKey) String() string {
	return k.Address + "|" + k.City + "|" + k.State
}

func (k IdentityKey) IsZero() bool {
	return k.Address == "" && k.City == "" && k.State == ""
}

// Attributes holds every optional, typed property slot. The same shape carries both an
// incoming observation and the canonical state. Nil means "unknown".
// Pointer slots are replaced, never written through, so shallow copies are safe to share.
type Attributes struct {
	County           *string  `json:"county,omitempty"`
	ZipCode          *string  `json:"zip_code,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	FormattedAddress *string  `json:"formatted_address,omitempty"`

	PropertyType  *string  `json:"property_type,omitempty"`
	BuildingType  *string  `json:"building_type,omitempty"`
	YearBuilt     *int     `json:"year_built,omitempty"`
	SquareFootage *int     `json:"square_footage,omitempty"`
	LotSizeSqft   *int     `json:"lot_size_sqft,omitempty"`
	NumBedrooms   *int     `json:"num_bedrooms,omitempty"`
	NumBathrooms  *float64 `json:"num_bathrooms,omitempty"`
	NumStories    *int     `json:"num_stories,omitempty"`

	OwnerName            *string    `json:"owner_name,omitempty"`
	LastSaleDate         *time.Time `json:"last_sale_date,omitempty"`
	LastSalePrice        *float64   `json:"last_sale_price,omitempty"`
	CurrentAssessedValue *float64   `json:"current_assessed_value,omitempty"`

	Status          *string    `json:"status,omitempty"`
	AbandonmentDate *time.Time `json:"abandonment_date,omitempty"`
	YearsAbandoned  *float64   `json:"years_abandoned,omitempty"`

	TaxDelinquent        *bool    `json:"tax_delinquent,omitempty"`
	TaxDelinquencyYears  *int     `json:"tax_delinquency_years,omitempty"`
	TaxDelinquencyAmount *float64 `json:"tax_delinquency_amount,omitempty"`
	TaxID                *string  `json:"tax_id,omitempty"`

	ForeclosureStatus *string    `json:"foreclosure_status,omitempty"`
	ForeclosureDate   *time.Time `json:"foreclosure_date,omitempty"`
	ForeclosureAmount *float64   `json:"foreclosure_amount,omitempty"`
	AuctionDate       *time.Time `json:"auction_date,omitempty"`
	AuctionURL        *string    `json:"auction_url,omitempty"`

	StructuralCondition    *string    `json:"structural_condition,omitempty"`
	Hazards                []string   `json:"hazards,omitempty"`
	HasViolations          *bool      `json:"has_violations,omitempty"`
	ViolationCount         *int       `json:"violation_count,omitempty"`
	Condemned              *bool      `json:"condemned,omitempty"`
	DemolitionScheduled    *bool      `json:"demolition_scheduled,omitempty"`
	DemolitionDate         *time.Time `json:"demolition_date,omitempty"`
	DemolitionPermitNumber *string    `json:"demolition_permit_number,omitempty"`
}

// CanonicalProperty is the deduplicated current state of one physical property.
type CanonicalProperty struct {
	ID  int64       `json:"id"`
	Key IdentityKey `json:"identity_key"`

	// Raw location strings from the first observation.
	Address string `json:"address"`
	Unit    string `json:"unit,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`

	Attributes

	AbandonmentScore int        `json:"abandonment_score"`
	DiscoveryDate    time.Time  `json:"discovery_date"`
	LastUpdated      time.Time  `json:"last_updated"`
	// StatusObservedAt holds, per status-class field, the observation time of the value
	// currently stored.
	StatusObservedAt map[string]time.Time `json:"status_observed_at,omitempty"`
	DataSources      []string   `json:"data_sources"`

	// RejectedValues remembers the last value rejected per field so a repeated
	// regression is not reported twice.
	RejectedValues map[string]string `json:"-"`

	Version int64 `json:"-"`
}

// Clone returns a copy that shares no slices or maps with p.
func (p CanonicalProperty) Clone() CanonicalProperty {
	out := p
	if p.Hazards != nil {
		out.Hazards = append([]string(nil), p.Hazards...)
	}
	if p.DataSources != nil {
		out.DataSources = append([]string(nil), p.DataSources...)
	}
	if p.StatusObservedAt != nil {
		out.StatusObservedAt = make(map[string]time.Time, len(p.StatusObservedAt))
		for k, v := range p.StatusObservedAt {
			out.StatusObservedAt[k] = v
		}
	}
	if p.RejectedValues != nil {
		out.RejectedValues = make(map[string]string, len(p.RejectedValues))
		for k, v := range p.RejectedValues {
			out.RejectedValues[k] = v
		}
	}
	return out
}

// HasSource reports whether the named source has reported this property before.
func (p CanonicalProperty) HasSource(source string) bool {
	for _, s := range p.DataSources {
		if strings.EqualFold(s, source) {
			return true
		}
	}
	return false
}

// inactiveForeclosure lists foreclosure status values that do not describe an ongoing
// proceeding.
var inactiveForeclosure = map[string]bool{
	"none":       true,
	"no":         true,
	"cancelled":  true,
	"canceled":   true,
	"dismissed":  true,
	"redeemed":   true,
	"reinstated": true,
	"sold":       true,
	"closed":     true,
}

// InactiveForeclosureStatuses returns the inactive status values in sorted order.
func InactiveForeclosureStatuses() []string {
	out := make([]string, 0, len(inactiveForeclosure))
	for s := range inactiveForeclosure {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// IsActiveForeclosure reports whether a foreclosure status indicates an active proceeding
// (pre-foreclosure, auction, bank-owned, HUD-owned, ...).
func IsActiveForeclosure(status *string) bool {
	if status == nil {
		return false
	}
	s := strings.ToLower(strings.TrimSpace(*status))
	if s == "" {
		return false
	}
	return !inactiveForeclosure[s]
}
