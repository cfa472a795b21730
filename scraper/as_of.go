// scraper/as_of.go
package scraper

import (
	"regexp"
	"time"
)

// Listing pages usually state when their data was pulled, e.g. "Data as of 05/14/2024" or
// "Last updated: 5/14/2024".
var asOfRegex = regexp.MustCompile(`(?i)(?:as\s+of|last\s+updated|updated|effective)\s*:?\s*(\d{1,2}/\d{1,2}/\d{4})`)

const asOfLayout = "1/2/2006"

// ListingAsOf finds the first "as of" date in page text.
func ListingAsOf(text string) (time.Time, bool) {
	m := asOfRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return time.Time{}, false
	}
	t, err := time.Parse(asOfLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
