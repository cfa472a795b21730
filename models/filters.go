// models/filters.go
package models

import (
	"strings"
	"time"
)

// Ordering choices accepted by Filters.OrderBy.
const (
	OrderByScore          = "score"
	OrderByLastUpdated    = "last_updated"
	OrderByDiscoveryDate  = "discovery_date"
	OrderByDemolitionDate = "demolition_date" // soonest first
)

// Filters narrows a catalog read. All set filters must hold; zero values are unconstrained.
// State, City and Search are compared against identity-key forms; callers normalize them
// first (normalize.Filters).
type Filters struct {
	State         string `json:"state,omitempty"`
	County        string `json:"county,omitempty"`
	City          string `json:"city,omitempty"`
	Status        string `json:"status,omitempty"`
	MinScore      int    `json:"min_score,omitempty"`
	TaxDelinquent *bool  `json:"tax_delinquent,omitempty"`
	InForeclosure bool   `json:"in_foreclosure,omitempty"`

	// MinTaxYears keeps tax-delinquent properties owing for at least this many years.
	MinTaxYears int `json:"min_tax_years,omitempty"`

	// DemolitionDays keeps properties scheduled for demolition between Today and
	// Today+DemolitionDays inclusive.
	DemolitionDays int       `json:"demolition_days,omitempty"`
	Today          time.Time `json:"-"`

	// Search is a substring of the normalized address, the city or the owner name.
	Search  string `json:"q,omitempty"`
	OrderBy string `json:"order_by,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`

	// Search in city and owner form; Search itself is used when empty.
	SearchCity  string `json:"-"`
	SearchOwner string `json:"-"`
}

// DemolitionWindow returns the inclusive date range of the demolition filter.
func (f Filters) DemolitionWindow() (from, to time.Time) {
	from = DateOnly(f.Today)
	return from, from.AddDate(0, 0, f.DemolitionDays)
}

// SearchTerms returns the lower-cased address, city and owner forms of Search.
func (f Filters) SearchTerms() (address, city, owner string) {
	address = strings.ToLower(f.Search)
	city, owner = address, address
	if f.SearchCity != "" {
		city = strings.ToLower(f.SearchCity)
	}
	if f.SearchOwner != "" {
		owner = strings.ToLower(f.SearchOwner)
	}
	return address, city, owner
}

// Matches reports whether p satisfies every set filter. The SQL store expresses the same
// predicate in its WHERE clause.
func (f Filters) Matches(p CanonicalProperty) bool {
	if f.State != "" && p.Key.State != strings.ToLower(f.State) {
		return false
	}
	if f.City != "" && p.Key.City != strings.ToLower(f.City) {
		return false
	}
	if f.County != "" && (p.County == nil || !strings.EqualFold(*p.County, f.County)) {
		return false
	}
	if f.Status != "" && (p.Status == nil || !strings.EqualFold(*p.Status, f.Status)) {
		return false
	}
	if f.MinScore > 0 && p.AbandonmentScore < f.MinScore {
		return false
	}
	if f.TaxDelinquent != nil {
		if p.TaxDelinquent == nil || *p.TaxDelinquent != *f.TaxDelinquent {
			return false
		}
	}
	if f.MinTaxYears > 0 {
		if p.TaxDelinquent == nil || !*p.TaxDelinquent ||
			p.TaxDelinquencyYears == nil || *p.TaxDelinquencyYears < f.MinTaxYears {
			return false
		}
	}
	if f.InForeclosure && !IsActiveForeclosure(p.ForeclosureStatus) {
		return false
	}
	if f.DemolitionDays > 0 {
		from, to := f.DemolitionWindow()
		if p.DemolitionScheduled == nil || !*p.DemolitionScheduled || p.DemolitionDate == nil ||
			p.DemolitionDate.Before(from) || p.DemolitionDate.After(to) {
			return false
		}
	}
	if f.Search != "" {
		address, city, owner := f.SearchTerms()
		if !strings.Contains(p.Key.Address, address) &&
			!strings.Contains(p.Key.City, city) &&
			(p.OwnerName == nil || !strings.Contains(strings.ToLower(*p.OwnerName), owner)) {
			return false
		}
	}
	return true
}

// Less orders a before b under f.OrderBy. Ties always fall back to id ascending.
func (f Filters) Less(a, b CanonicalProperty) bool {
	switch f.OrderBy {
	case OrderByLastUpdated:
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
	case OrderByDiscoveryDate:
		if !a.DiscoveryDate.Equal(b.DiscoveryDate) {
			return a.DiscoveryDate.After(b.DiscoveryDate)
		}
	case OrderByDemolitionDate:
		// soonest first, unscheduled last
		switch {
		case a.DemolitionDate == nil && b.DemolitionDate != nil:
			return false
		case a.DemolitionDate != nil && b.DemolitionDate == nil:
			return true
		case a.DemolitionDate != nil && !a.DemolitionDate.Equal(*b.DemolitionDate):
			return a.DemolitionDate.Before(*b.DemolitionDate)
		}
	default:
		if a.AbandonmentScore != b.AbandonmentScore {
			return a.AbandonmentScore > b.AbandonmentScore
		}
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
	}
	return a.ID < b.ID
}

// HighScoreThreshold is the score at or above which a property counts as a strong lead.
const HighScoreThreshold = 7

// Stats summarizes the catalog.
type Stats struct {
	Total          int            `json:"total"`
	Abandoned      int            `json:"abandoned"`
	InForeclosure  int            `json:"in_foreclosure"`
	TaxDelinquent  int            `json:"tax_delinquent"`
	Condemned      int            `json:"condemned"`
	HighScore      int            `json:"high_score"`
	AverageScore   float64        `json:"average_score"`
	ByState        map[string]int `json:"by_state"`
	HistoryEntries int            `json:"history_entries"`
	Observations   int            `json:"observations"`
}
