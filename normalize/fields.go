// normalize/fields.go
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gewnthar/propcat/models"
)

// aliases maps collector spellings onto canonical field names.
var aliases = map[string]string{
	"property_address":   fieldAddress,
	"situs_address":      fieldAddress,
	"site_address":       fieldAddress,
	"street_address":     fieldAddress,
	"property_city":      fieldCity,
	"situs_city":         fieldCity,
	"zip":                models.FieldZipCode,
	"zipcode":            models.FieldZipCode,
	"postal_code":        models.FieldZipCode,
	"lat":                models.FieldLatitude,
	"lng":                models.FieldLongitude,
	"lon":                models.FieldLongitude,
	"owner":              models.FieldOwnerName,
	"owner_of_record":    models.FieldOwnerName,
	"parcel_id":          models.FieldTaxID,
	"parcel_number":      models.FieldTaxID,
	"apn":                models.FieldTaxID,
	"account_number":     models.FieldTaxID,
	"years_delinquent":   models.FieldTaxDelinquencyYears,
	"delinquent_years":   models.FieldTaxDelinquencyYears,
	"amount_due":         models.FieldTaxDelinquencyAmount,
	"delinquency_amount": models.FieldTaxDelinquencyAmount,
	"total_due":          models.FieldTaxDelinquencyAmount,
	"sqft":               models.FieldSquareFootage,
	"living_area":        models.FieldSquareFootage,
	"lot_size":           models.FieldLotSizeSqft,
	"bedrooms":           models.FieldNumBedrooms,
	"beds":               models.FieldNumBedrooms,
	"bathrooms":          models.FieldNumBathrooms,
	"baths":              models.FieldNumBathrooms,
	"stories":            models.FieldNumStories,
	"assessed_value":     models.FieldCurrentAssessedValue,
	"sale_date":          models.FieldLastSaleDate,
	"sale_price":         models.FieldLastSalePrice,
	"opening_bid":        models.FieldForeclosureAmount,
	"judgment_amount":    models.FieldForeclosureAmount,
	"violations":         models.FieldViolationCount,
	"condition":          models.FieldStructuralCondition,
	"demolition_permit":  models.FieldDemolitionPermitNumber,
	"listing_url":        models.FieldAuctionURL,
	"property_status":    models.FieldStatus,
	"is_condemned":       models.FieldCondemned,
	"is_tax_delinquent":  models.FieldTaxDelinquent,
	"hazard_tags":        models.FieldHazards,
}

// preserveCase lists string fields whose value is kept as received apart from trimming.
var preserveCase = map[string]bool{
	models.FieldAuctionURL:       true,
	models.FieldFormattedAddress: true,
}

// Location fields handled by Normalize itself rather than the attribute table.
const (
	fieldAddress = "address"
	fieldCity    = "city"
	fieldState   = "state"
)

var (
	zipPattern       = regexp.MustCompile(`^(\d{5})(?:-?\d{4})?$`)
	dateLayouts      = []string{"2006-01-02", "01/02/2006", "1/2/2006", "01-02-2006", "2006/01/02", "January 2, 2006", "Jan 2, 2006", "2 January 2006", "2 Jan 2006", time.RFC3339}
	trueStrings      = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "t": true, "x": true}
	falseStrings     = map[string]bool{"false": true, "no": true, "n": true, "0": true, "f": true}
	maxPrice         = 100_000_000.0
	minSquareFeet    = 10
	maxSquareFeet    = 1_000_000
	maxLotSquareFeet = 100_000_000
	minYearBuilt     = 1700
)

// CanonicalName resolves a raw field or column name to a canonical one.
func CanonicalName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return name
}

// assign parses value into the slot for def. It returns an error describing why the value
// was dropped; a nil value or blank string is a silent no-op.
func assign(def models.FieldDef, attrs *models.Attributes, value any, observedAt time.Time) error {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}

	switch slot := def.Slot(attrs).(type) {
	case **string:
		s := strings.TrimSpace(fmt.Sprint(value))
		if def.Name == models.FieldZipCode {
			m := zipPattern.FindStringSubmatch(strings.ReplaceAll(s, " ", ""))
			if m == nil {
				return fmt.Errorf("not a zip code: %q", s)
			}
			s = m[1]
		} else if preserveCase[def.Name] {
			s = strings.Join(strings.Fields(s), " ")
		} else {
			s = Text(s)
		}
		*slot = &s
	case **int:
		n, err := parseInt(value)
		if err != nil {
			return err
		}
		if err := checkIntRange(def.Name, n, observedAt); err != nil {
			return err
		}
		*slot = &n
	case **float64:
		f, err := parseFloat(value, def.Kind == models.KindMoney)
		if err != nil {
			return err
		}
		if def.Kind == models.KindMoney {
			// cents, matching the DECIMAL(14,2) column
			f = math.Round(f*100) / 100
		}
		if err := checkFloatRange(def, f); err != nil {
			return err
		}
		*slot = &f
	case **bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		*slot = &b
	case **time.Time:
		t, err := parseDate(value)
		if err != nil {
			return err
		}
		*slot = &t
	case *[]string:
		*slot = mergeTags(*slot, parseTags(value))
	default:
		return fmt.Errorf("unsupported slot for %s", def.Name)
	}
	return nil
}

func parseInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not a whole number: %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("not an integer: %q", v)
		}
		return int(f), nil
	}
	return 0, fmt.Errorf("not an integer: %v", value)
}

func parseFloat(value any, money bool) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		s := strings.TrimSpace(v)
		if money {
			s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
			if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
				s = "-" + strings.Trim(s, "()")
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not a number: %v", value)
}

func parseBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if trueStrings[s] {
			return true, nil
		}
		if falseStrings[s] {
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %v", value)
}

func parseDate(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return models.DateOnly(v), nil
	case string:
		s := strings.Join(strings.Fields(v), " ")
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return models.DateOnly(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date: %q", v)
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %v", value)
}

func parseTags(value any) []string {
	var parts []string
	switch v := value.(type) {
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = strings.FieldsFunc(fmt.Sprint(v), func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := Text(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// mergeTags returns the sorted union of a and b without duplicates.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range append(append([]string(nil), a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func checkIntRange(field string, n int, observedAt time.Time) error {
	switch field {
	case models.FieldYearBuilt:
		if n < minYearBuilt || (!observedAt.IsZero() && n > observedAt.Year()+1) {
			return fmt.Errorf("year out of range: %d", n)
		}
	case models.FieldSquareFootage:
		if n < minSquareFeet || n > maxSquareFeet {
			return fmt.Errorf("area out of range: %d", n)
		}
	case models.FieldLotSizeSqft:
		if n < minSquareFeet || n > maxLotSquareFeet {
			return fmt.Errorf("lot size out of range: %d", n)
		}
	default:
		if n < 0 {
			return fmt.Errorf("negative value: %d", n)
		}
	}
	return nil
}

func checkFloatRange(def models.FieldDef, f float64) error {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return fmt.Errorf("not a finite number")
	case def.Name == models.FieldLatitude && (f < -90 || f > 90):
		return fmt.Errorf("latitude out of range: %v", f)
	case def.Name == models.FieldLongitude && (f < -180 || f > 180):
		return fmt.Errorf("longitude out of range: %v", f)
	case def.Kind == models.KindMoney && (f < 0 || f > maxPrice):
		return fmt.Errorf("amount out of range: %v", f)
	case def.Name != models.FieldLatitude && def.Name != models.FieldLongitude && f < 0:
		return fmt.Errorf("negative value: %v", f)
	}
	return nil
}
