// merge/policy.go
package merge

import "github.com/gewnthar/propcat/models"

// Policy decides how an incoming value reconciles with the stored one.
type Policy int

const (
	// Overwrite replaces the stored value with any non-null incoming value.
	Overwrite Policy = iota
	// Monotonic keeps the higher of the two values; a lower incoming value is a discrepancy.
	Monotonic
	// Status applies the incoming value when its observation is at least as recent as the
	// one that last set a status field.
	Status
	// Immutable keeps the first non-null value; a different incoming value is a discrepancy.
	Immutable
	// Union adds incoming tags to the stored set.
	Union
)

func (p Policy) String() string {
	switch p {
	case Monotonic:
		return "monotonic"
	case Status:
		return "status"
	case Immutable:
		return "immutable"
	case Union:
		return "union"
	default:
		return "overwrite"
	}
}

var policies = map[string]Policy{
	models.FieldTaxDelinquencyYears:  Monotonic,
	models.FieldTaxDelinquencyAmount: Monotonic,
	models.FieldViolationCount:       Monotonic,

	models.FieldStatus:              Status,
	models.FieldForeclosureStatus:   Status,
	models.FieldStructuralCondition: Status,
	models.FieldTaxDelinquent:       Status,
	models.FieldHasViolations:       Status,
	models.FieldCondemned:           Status,
	models.FieldDemolitionScheduled: Status,

	models.FieldYearBuilt:       Immutable,
	models.FieldOwnerName:       Immutable,
	models.FieldAbandonmentDate: Immutable,
	models.FieldYearsAbandoned:  Immutable,
	models.FieldTaxID:           Immutable,

	models.FieldHazards: Union,
}

// PolicyFor returns the merge policy of a field. Unlisted fields overwrite.
func PolicyFor(field string) Policy {
	return policies[field]
}
