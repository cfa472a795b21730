// normalize/address.go
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var streetSuffixes = map[string]string{
	"st": "street", "str": "street", "street": "street",
	"ave": "avenue", "av": "avenue", "avn": "avenue", "avenue": "avenue",
	"rd": "road", "road": "road",
	"dr": "drive", "drv": "drive", "drive": "drive",
	"blvd": "boulevard", "boul": "boulevard", "boulevard": "boulevard",
	"ln": "lane", "lane": "lane",
	"ct": "court", "crt": "court", "court": "court",
	"pl": "place", "place": "place",
	"ter": "terrace", "terr": "terrace", "terrace": "terrace",
	"hwy": "highway", "hiway": "highway", "highway": "highway",
	"pkwy": "parkway", "pky": "parkway", "parkway": "parkway",
	"cir": "circle", "circ": "circle", "circle": "circle",
	"trl": "trail", "tr": "trail", "trail": "trail",
	"sq": "square", "square": "square",
	"aly": "alley", "alley": "alley",
	"expy": "expressway", "expressway": "expressway",
	"fwy": "freeway", "freeway": "freeway",
	"pt": "point", "point": "point",
	"xing": "crossing", "crossing": "crossing",
	"cv": "cove", "cove": "cove",
	"hts": "heights", "heights": "heights",
}

var directionals = map[string]string{
	"n": "north", "s": "south", "e": "east", "w": "west",
	"ne": "northeast", "nw": "northwest", "se": "southeast", "sw": "southwest",
}

// unitDesignators maps every accepted spelling to the short form kept in Unit.
var unitDesignators = map[string]string{
	"apt": "apt", "apartment": "apt",
	"unit": "unit",
	"ste": "ste", "suite": "ste",
	"#": "#", "no": "#",
	"rm": "rm", "room": "rm",
	"fl": "fl", "floor": "fl",
	"bldg": "bldg", "building": "bldg",
	"lot": "lot",
	"spc": "spc", "space": "spc",
	"trlr": "trlr", "trailer": "trlr",
}

var cityAbbreviations = map[string]string{
	"st":  "saint",
	"ste": "sainte",
	"ft":  "fort",
	"mt":  "mount",
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lower-cases s, strips diacritics, turns punctuation into spaces (keeping '#') and
// returns the remaining tokens.
func fold(s string) []string {
	folded, _, err := transform.String(foldMarks, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(folded) + 4)
	for _, r := range folded {
		switch {
		case r == '#':
			b.WriteString(" # ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// IsUnitDesignator reports whether a folded token introduces a unit ("apt", "#").
func IsUnitDesignator(token string) bool {
	_, ok := unitDesignators[token]
	return ok
}

// Address returns the identity form of a street address and the unit designator that
// was stripped from it ("apt 2b"), if any.
func Address(raw string) (address, unit string) {
	tokens := fold(raw)

	// A unit designator needs a house number and a street name in front of it.
	for i := 2; i < len(tokens); i++ {
		short, ok := unitDesignators[tokens[i]]
		if !ok {
			continue
		}
		unit = short
		end := i + 1
		if end < len(tokens) {
			unit += " " + tokens[end]
			end++
		}
		tokens = append(tokens[:i:i], tokens[end:]...)
		break
	}

	for i := 1; i < len(tokens); i++ {
		if full, ok := streetSuffixes[tokens[i]]; ok {
			tokens[i] = full
		} else if full, ok := directionals[tokens[i]]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " "), unit
}

// City returns the identity form of a city name.
func City(raw string) string {
	tokens := fold(raw)
	for i, t := range tokens {
		if full, ok := cityAbbreviations[t]; ok {
			tokens[i] = full
		}
	}
	return strings.Join(tokens, " ")
}

// Text lower-cases, trims and collapses whitespace. Used for free-text fields.
func Text(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
