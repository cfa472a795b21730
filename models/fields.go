// models/fields.go
package models

import "time"

// Kind describes how a raw value for a field is parsed and stored.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindMoney
	KindBool
	KindDate
	KindTags
)

// Field names shared by the normalizer, the merge engine, storage columns and history rows.
const (
	FieldCounty                 = "county"
	FieldZipCode                = "zip_code"
	FieldLatitude               = "latitude"
	FieldLongitude              = "longitude"
	FieldFormattedAddress       = "formatted_address"
	FieldPropertyType           = "property_type"
	FieldBuildingType           = "building_type"
	FieldYearBuilt              = "year_built"
	FieldSquareFootage          = "square_footage"
	FieldLotSizeSqft            = "lot_size_sqft"
	FieldNumBedrooms            = "num_bedrooms"
	FieldNumBathrooms           = "num_bathrooms"
	FieldNumStories             = "num_stories"
	FieldOwnerName              = "owner_name"
	FieldLastSaleDate           = "last_sale_date"
	FieldLastSalePrice          = "last_sale_price"
	FieldCurrentAssessedValue   = "current_assessed_value"
	FieldStatus                 = "status"
	FieldAbandonmentDate        = "abandonment_date"
	FieldYearsAbandoned         = "years_abandoned"
	FieldTaxDelinquent          = "tax_delinquent"
	FieldTaxDelinquencyYears    = "tax_delinquency_years"
	FieldTaxDelinquencyAmount   = "tax_delinquency_amount"
	FieldTaxID                  = "tax_id"
	FieldForeclosureStatus      = "foreclosure_status"
	FieldForeclosureDate        = "foreclosure_date"
	FieldForeclosureAmount      = "foreclosure_amount"
	FieldAuctionDate            = "auction_date"
	FieldAuctionURL             = "auction_url"
	FieldStructuralCondition    = "structural_condition"
	FieldHazards                = "hazards"
	FieldHasViolations          = "has_violations"
	FieldViolationCount         = "violation_count"
	FieldCondemned              = "condemned"
	FieldDemolitionScheduled    = "demolition_scheduled"
	FieldDemolitionDate         = "demolition_date"
	FieldDemolitionPermitNumber = "demolition_permit_number"

	// FieldAbandonmentScore is derived, never observed. It appears only in change lists.
	FieldAbandonmentScore = "abandonment_score"
)

// FieldDef binds a field name to its slot inside Attributes. Slot returns a pointer to the
// slot: **string, **int, **float64, **bool, **time.Time or *[]string depending on Kind.
type FieldDef struct {
	Name string
	Kind Kind
	Slot func(a *Attributes) any
}

// Fields is the closed set of observable property fields, in storage column order.
var Fields = []FieldDef{
	{FieldCounty, KindString, func(a *Attributes) any { return &a.County }},
	{FieldZipCode, KindString, func(a *Attributes) any { return &a.ZipCode }},
	{FieldLatitude, KindFloat, func(a *Attributes) any { return &a.Latitude }},
	{FieldLongitude, KindFloat, func(a *Attributes) any { return &a.Longitude }},
	{FieldFormattedAddress, KindString, func(a *Attributes) any { return &a.FormattedAddress }},
	{FieldPropertyType, KindString, func(a *Attributes) any { return &a.PropertyType }},
	{FieldBuildingType, KindString, func(a *Attributes) any { return &a.BuildingType }},
	{FieldYearBuilt, KindInt, func(a *Attributes) any { return &a.YearBuilt }},
	{FieldSquareFootage, KindInt, func(a *Attributes) any { return &a.SquareFootage }},
	{FieldLotSizeSqft, KindInt, func(a *Attributes) any { return &a.LotSizeSqft }},
	{FieldNumBedrooms, KindInt, func(a *Attributes) any { return &a.NumBedrooms }},
	{FieldNumBathrooms, KindFloat, func(a *Attributes) any { return &a.NumBathrooms }},
	{FieldNumStories, KindInt, func(a *Attributes) any { return &a.NumStories }},
	{FieldOwnerName, KindString, func(a *Attributes) any { return &a.OwnerName }},
	{FieldLastSaleDate, KindDate, func(a *Attributes) any { return &a.LastSaleDate }},
	{FieldLastSalePrice, KindMoney, func(a *Attributes) any { return &a.LastSalePrice }},
	{FieldCurrentAssessedValue, KindMoney, func(a *Attributes) any { return &a.CurrentAssessedValue }},
	{FieldStatus, KindString, func(a *Attributes) any { return &a.Status }},
	{FieldAbandonmentDate, KindDate, func(a *Attributes) any { return &a.AbandonmentDate }},
	{FieldYearsAbandoned, KindFloat, func(a *Attributes) any { return &a.YearsAbandoned }},
	{FieldTaxDelinquent, KindBool, func(a *Attributes) any { return &a.TaxDelinquent }},
	{FieldTaxDelinquencyYears, KindInt, func(a *Attributes) any { return &a.TaxDelinquencyYears }},
	{FieldTaxDelinquencyAmount, KindMoney, func(a *Attributes) any { return &a.TaxDelinquencyAmount }},
	{FieldTaxID, KindString, func(a *Attributes) any { return &a.TaxID }},
	{FieldForeclosureStatus, KindString, func(a *Attributes) any { return &a.ForeclosureStatus }},
	{FieldForeclosureDate, KindDate, func(a *Attributes) any { return &a.ForeclosureDate }},
	{FieldForeclosureAmount, KindMoney, func(a *Attributes) any { return &a.ForeclosureAmount }},
	{FieldAuctionDate, KindDate, func(a *Attributes) any { return &a.AuctionDate }},
	{FieldAuctionURL, KindString, func(a *Attributes) any { return &a.AuctionURL }},
	{FieldStructuralCondition, KindString, func(a *Attributes) any { return &a.StructuralCondition }},
	{FieldHazards, KindTags, func(a *Attributes) any { return &a.Hazards }},
	{FieldHasViolations, KindBool, func(a *Attributes) any { return &a.HasViolations }},
	{FieldViolationCount, KindInt, func(a *Attributes) any { return &a.ViolationCount }},
	{FieldCondemned, KindBool, func(a *Attributes) any { return &a.Condemned }},
	{FieldDemolitionScheduled, KindBool, func(a *Attributes) any { return &a.DemolitionScheduled }},
	{FieldDemolitionDate, KindDate, func(a *Attributes) any { return &a.DemolitionDate }},
	{FieldDemolitionPermitNumber, KindString, func(a *Attributes) any { return &a.DemolitionPermitNumber }},
}

var fieldsByName = func() map[string]FieldDef {
	m := make(map[string]FieldDef, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the definition for a canonical field name.
func LookupField(name string) (FieldDef, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// Value returns the dereferenced value of a field, or nil when the slot is unset.
func (f FieldDef) Value(a *Attributes) any {
	return SlotValue(f.Slot(a))
}

// SlotValue dereferences a slot pointer as returned by FieldDef.Slot.
func SlotValue(slot any) any {
	switch v := slot.(type) {
	case **string:
		if *v != nil {
			return **v
		}
	case **int:
		if *v != nil {
			return **v
		}
	case **float64:
		if *v != nil {
			return **v
		}
	case **bool:
		if *v != nil {
			return **v
		}
	case **time.Time:
		if *v != nil {
			return **v
		}
	case *[]string:
		if len(*v) > 0 {
			return append([]string(nil), (*v)...)
		}
	}
	return nil
}
