// services/export.go
package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/gewnthar/propcat/models"
)

// exportRow is the flat CSV shape of a property.
type exportRow struct {
	ID      int64  `csv:"id"`
	Address string `csv:"address"`
	Unit    string `csv:"unit"`
	City    string `csv:"city"`
	State   string `csv:"state"`

	County           *string  `csv:"county"`
	ZipCode          *string  `csv:"zip_code"`
	Latitude         *float64 `csv:"latitude"`
	Longitude        *float64 `csv:"longitude"`
	FormattedAddress *string  `csv:"formatted_address"`

	PropertyType  *string  `csv:"property_type"`
	BuildingType  *string  `csv:"building_type"`
	YearBuilt     *int     `csv:"year_built"`
	SquareFootage *int     `csv:"square_footage"`
	LotSizeSqft   *int     `csv:"lot_size_sqft"`
	NumBedrooms   *int     `csv:"num_bedrooms"`
	NumBathrooms  *float64 `csv:"num_bathrooms"`
	NumStories    *int     `csv:"num_stories"`

	OwnerName            *string  `csv:"owner_name"`
	LastSaleDate         string   `csv:"last_sale_date"`
	LastSalePrice        *float64 `csv:"last_sale_price"`
	CurrentAssessedValue *float64 `csv:"current_assessed_value"`

	Status          *string  `csv:"status"`
	AbandonmentDate string   `csv:"abandonment_date"`
	YearsAbandoned  *float64 `csv:"years_abandoned"`

	TaxDelinquent        *bool    `csv:"tax_delinquent"`
	TaxDelinquencyYears  *int     `csv:"tax_delinquency_years"`
	TaxDelinquencyAmount *float64 `csv:"tax_delinquency_amount"`
	TaxID                *string  `csv:"tax_id"`

	ForeclosureStatus *string  `csv:"foreclosure_status"`
	ForeclosureDate   string   `csv:"foreclosure_date"`
	ForeclosureAmount *float64 `csv:"foreclosure_amount"`
	AuctionDate       string   `csv:"auction_date"`
	AuctionURL        *string  `csv:"auction_url"`

	StructuralCondition    *string `csv:"structural_condition"`
	Hazards                string  `csv:"hazards"`
	HasViolations          *bool   `csv:"has_violations"`
	ViolationCount         *int    `csv:"violation_count"`
	Condemned              *bool   `csv:"condemned"`
	DemolitionScheduled    *bool   `csv:"demolition_scheduled"`
	DemolitionDate         string  `csv:"demolition_date"`
	DemolitionPermitNumber *string `csv:"demolition_permit_number"`

	AbandonmentScore int    `csv:"abandonment_score"`
	DiscoveryDate    string `csv:"discovery_date"`
	LastUpdated      string `csv:"last_updated"`
	DataSources      string `csv:"data_sources"`
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func toExportRow(p models.CanonicalProperty) exportRow {
	a := p.Attributes
	return exportRow{
		ID:      p.ID,
		Address: p.Address,
		Unit:    p.Unit,
		City:    p.City,
		State:   p.State,

		County:           a.County,
		ZipCode:          a.ZipCode,
		Latitude:         a.Latitude,
		Longitude:        a.Longitude,
		FormattedAddress: a.FormattedAddress,

		PropertyType:  a.PropertyType,
		BuildingType:  a.BuildingType,
		YearBuilt:     a.YearBuilt,
		SquareFootage: a.SquareFootage,
		LotSizeSqft:   a.LotSizeSqft,
		NumBedrooms:   a.NumBedrooms,
		NumBathrooms:  a.NumBathrooms,
		NumStories:    a.NumStories,

		OwnerName:            a.OwnerName,
		LastSaleDate:         date(a.LastSaleDate),
		LastSalePrice:        a.LastSalePrice,
		CurrentAssessedValue: a.CurrentAssessedValue,

		Status:          a.Status,
		AbandonmentDate: date(a.AbandonmentDate),
		YearsAbandoned:  a.YearsAbandoned,

		TaxDelinquent:        a.TaxDelinquent,
		TaxDelinquencyYears:  a.TaxDelinquencyYears,
		TaxDelinquencyAmount: a.TaxDelinquencyAmount,
		TaxID:                a.TaxID,

		ForeclosureStatus: a.ForeclosureStatus,
		ForeclosureDate:   date(a.ForeclosureDate),
		ForeclosureAmount: a.ForeclosureAmount,
		AuctionDate:       date(a.AuctionDate),
		AuctionURL:        a.AuctionURL,

		StructuralCondition:    a.StructuralCondition,
		Hazards:                strings.Join(a.Hazards, ";"),
		HasViolations:          a.HasViolations,
		ViolationCount:         a.ViolationCount,
		Condemned:              a.Condemned,
		DemolitionScheduled:    a.DemolitionScheduled,
		DemolitionDate:         date(a.DemolitionDate),
		DemolitionPermitNumber: a.DemolitionPermitNumber,

		AbandonmentScore: p.AbandonmentScore,
		DiscoveryDate:    p.DiscoveryDate.UTC().Format(time.RFC3339),
		LastUpdated:      p.LastUpdated.UTC().Format(time.RFC3339),
		DataSources:      strings.Join(p.DataSources, ";"),
	}
}

// Exporter writes catalog extracts.
type Exporter struct {
	repo Repository
}

func NewExporter(repo Repository) *Exporter {
	return &Exporter{repo: repo}
}

// WriteCSV streams every property matching f to w, header first, and returns the number of
// rows written. The header is written even when nothing matches.
func (x *Exporter) WriteCSV(ctx context.Context, w io.Writer, f models.Filters) (int, error) {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(exportRow{}); err != nil {
		return 0, fmt.Errorf("failed to write export header: %w", err)
	}

	n := 0
	err := x.repo.StreamByFilters(ctx, prepareFilters(f), func(p models.CanonicalProperty) error {
		if err := enc.Encode(toExportRow(p)); err != nil {
			return fmt.Errorf("failed to encode property %d: %w", p.ID, err)
		}
		n++
		return nil
	})
	if err != nil {
		// buffered rows are not flushed on failure
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
