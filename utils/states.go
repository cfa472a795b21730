// utils/states.go
package utils

import "strings"

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN", "iowa": "IA",
	"kansas": "KS", "kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT",
	"virginia": "VA", "washington": "WA", "west virginia": "WV", "wisconsin": "WI",
	"wyoming": "WY", "district of columbia": "DC", "puerto rico": "PR", "guam": "GU",
	"virgin islands": "VI", "american samoa": "AS", "northern mariana islands": "MP",
}

var validCodes = func() map[string]bool {
	m := make(map[string]bool, len(stateCodes))
	for _, code := range stateCodes {
		m[code] = true
	}
	return m
}()

// NormalizeStateCode upper-cases and trims a state value. Full names ("Illinois") become
// their two-letter code; anything else is returned as is.
func NormalizeStateCode(state string) string {
	s := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(state, ".", ""))), " ")
	if code, ok := stateCodes[s]; ok {
		return code
	}
	return strings.ToUpper(s)
}

// IsStateCode reports whether code is a known two-letter US state or territory code.
func IsStateCode(code string) bool {
	return validCodes[strings.ToUpper(code)]
}
