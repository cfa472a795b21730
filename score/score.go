// score/score.go
package score

import (
	"github.com/gewnthar/propcat/models"
)

const (
	Min = 0
	Max = 10

	lowAssessedValue = 50000.0
	staleSaleYears   = 5
)

// Rule names reported by Breakdown.
const (
	RuleTaxMultiYear     = "tax_delinquent_2y"
	RuleTaxOneYear       = "tax_delinquent_1y"
	RuleForeclosure      = "active_foreclosure"
	RuleViolations       = "code_violations"
	RuleCondemned        = "condemned"
	RuleNoRecentSale     = "no_recent_sale"
	RuleLowAssessedValue = "low_assessed_value"
)

// Contribution is one rule that fired and the points it added.
type Contribution struct {
	Rule   string `json:"rule"`
	Points int    `json:"points"`
}

// Score returns the abandonment likelihood of p in [0, 10]. It reads only stored fields;
// the reference time for age-based rules is p.LastUpdated (or DiscoveryDate when unset).
func Score(p models.CanonicalProperty) int {
	total := 0
	for _, c := range Breakdown(p) {
		total += c.Points
	}
	return clamp(total)
}

// Breakdown lists the rules that fired for p, before clamping.
func Breakdown(p models.CanonicalProperty) []Contribution {
	var out []Contribution
	add := func(rule string, points int) {
		out = append(out, Contribution{Rule: rule, Points: points})
	}

	if p.TaxDelinquencyYears != nil && !isFalse(p.TaxDelinquent) {
		switch years := *p.TaxDelinquencyYears; {
		case years >= 2:
			add(RuleTaxMultiYear, 5)
		case years == 1:
			add(RuleTaxOneYear, 3)
		}
	}
	if models.IsActiveForeclosure(p.ForeclosureStatus) {
		add(RuleForeclosure, 4)
	}
	if (p.ViolationCount != nil && *p.ViolationCount > 0) || isTrue(p.HasViolations) {
		add(RuleViolations, 2)
	}
	if isTrue(p.Condemned) {
		add(RuleCondemned, 5)
	}
	if noRecentSale(p) {
		add(RuleNoRecentSale, 1)
	}
	if p.CurrentAssessedValue != nil && *p.CurrentAssessedValue < lowAssessedValue {
		add(RuleLowAssessedValue, 1)
	}
	return out
}

func noRecentSale(p models.CanonicalProperty) bool {
	ref := p.LastUpdated
	if ref.IsZero() {
		ref = p.DiscoveryDate
	}
	if ref.IsZero() {
		return false
	}
	cutoff := ref.AddDate(-staleSaleYears, 0, 0)
	if p.LastSaleDate != nil {
		return !p.LastSaleDate.After(cutoff)
	}
	return !p.DiscoveryDate.IsZero() && !p.DiscoveryDate.After(cutoff)
}

func clamp(n int) int {
	if n < Min {
		return Min
	}
	if n > Max {
		return Max
	}
	return n
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }
