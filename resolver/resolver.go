// resolver/resolver.go
package resolver

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/normalize"
)

// DefaultThreshold is the token similarity a fuzzy candidate must reach.
const DefaultThreshold = 0.85

// Finder is the read side of the repository the resolver needs.
type Finder interface {
	FindByKey(ctx context.Context, key models.IdentityKey) (*models.CanonicalProperty, error)
	FindByLocality(ctx context.Context, city, state string) ([]models.CanonicalProperty, error)
}

// Match says how a property was found.
type Match int

const (
	NoMatch Match = iota
	ExactMatch
	FuzzyMatch
)

func (m Match) String() string {
	switch m {
	case ExactMatch:
		return "exact"
	case FuzzyMatch:
		return "fuzzy"
	default:
		return "none"
	}
}

// Options controls a single resolution.
type Options struct {
	Fuzzy bool
}

type Resolver struct {
	finder    Finder
	threshold float64
}

// New returns a resolver. A threshold outside (0, 1] falls back to DefaultThreshold.
func New(finder Finder, threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{finder: finder, threshold: threshold}
}

// Resolve finds the single existing property key refers to, or nil.
//
// The exact key is tried first. When it misses and opts.Fuzzy is set, properties in the
// same city and state are compared by address token similarity. The best candidate above the
// threshold wins, with ties going to the most recently updated and then the lowest id.
// If the candidates above the threshold disagree on the house number there is no safe
// choice and nil is returned.
func (r *Resolver) Resolve(ctx context.Context, key models.IdentityKey, opts Options) (*models.CanonicalProperty, Match, error) {
	p, err := r.finder.FindByKey(ctx, key)
	if err != nil {
		return nil, NoMatch, fmt.Errorf("exact lookup: %w", err)
	}
	if p != nil {
		return p, ExactMatch, nil
	}
	if !opts.Fuzzy {
		return nil, NoMatch, nil
	}

	candidates, err := r.finder.FindByLocality(ctx, key.City, key.State)
	if err != nil {
		return nil, NoMatch, fmt.Errorf("fuzzy lookup: %w", err)
	}
	best := r.pick(key, candidates)
	if best == nil {
		return nil, NoMatch, nil
	}
	return best, FuzzyMatch, nil
}

type scored struct {
	p     *models.CanonicalProperty
	score float64
	house string
}

func (r *Resolver) pick(key models.IdentityKey, candidates []models.CanonicalProperty) *models.CanonicalProperty {
	tokens := Tokens(key.Address)
	house := houseNumber(key.Address)

	var above []scored
	for i := range candidates {
		c := &candidates[i]
		if c.Key == key {
			continue
		}
		ch := houseNumber(c.Key.Address)
		if house != "" && ch != "" && house != ch {
			continue
		}
		s := Similarity(tokens, Tokens(c.Key.Address))
		if s >= r.threshold {
			above = append(above, scored{p: c, score: s, house: ch})
		}
	}
	if len(above) == 0 {
		return nil
	}

	// Distinct house numbers among the survivors mean distinct buildings.
	houses := map[string]bool{}
	for _, s := range above {
		houses[s.house] = true
	}
	if len(houses) > 1 {
		return nil
	}

	best := above[0]
	for _, s := range above[1:] {
		if better(s, best) {
			best = s
		}
	}
	return best.p
}

func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.p.LastUpdated.Equal(b.p.LastUpdated) {
		return a.p.LastUpdated.After(b.p.LastUpdated)
	}
	return a.p.ID < b.p.ID
}

// Tokens splits a normalized address into its set of tokens. A unit designator after the
// house number and street name is dropped along with the value that follows it.
func Tokens(address string) map[string]bool {
	fields := strings.Fields(address)
	out := map[string]bool{}
	for i := 0; i < len(fields); i++ {
		if i >= 2 && normalize.IsUnitDesignator(fields[i]) {
			i++
			continue
		}
		out[fields[i]] = true
	}
	return out
}

// Similarity is the Jaccard index |A∩B| / |A∪B| of two token sets. An extra directional
// or suffix lowers it, so "123 main street" and "123 main street east" stay apart.
func Similarity(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// houseNumber returns the leading numeric token of an address, or "".
func houseNumber(address string) string {
	fields := strings.Fields(address)
	if len(fields) == 0 || !unicode.IsDigit(rune(fields[0][0])) {
		return ""
	}
	return fields[0]
}
