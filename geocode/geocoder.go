// geocode/geocoder.go
package geocode

import (
	"context"
	"strings"
	"time"

	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/metrics"
)

// Result is a resolved location.
type Result struct {
	Lat              float64 `json:"lat" csv:"lat"`
	Lng              float64 `json:"lng" csv:"lng"`
	FormattedAddress string  `json:"formatted_address,omitempty" csv:"formatted_address,omitempty"`
}

// Geocoder turns a one-line address into coordinates. A nil Result with a nil error means
// the address is unknown to the provider.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Result, error)
}

// Cache stores provider answers, including negative ones (a nil Result).
type Cache interface {
	// Get reports ok=false when nothing is cached for key.
	Get(ctx context.Context, key string) (res *Result, ok bool, err error)
	Set(ctx context.Context, key string, res *Result) error
}

// CachingGeocoder consults cache before provider and remembers every answer.
type CachingGeocoder struct {
	provider Geocoder
	cache    Cache
	log      *logger.Logger
	metrics  *metrics.Metrics
}

func NewCachingGeocoder(provider Geocoder, cache Cache, log *logger.Logger, m *metrics.Metrics) *CachingGeocoder {
	if m == nil {
		m = metrics.Nop()
	}
	return &CachingGeocoder{provider: provider, cache: cache, log: logger.OrNop(log), metrics: m}
}

func (g *CachingGeocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	key := CacheKey(address)
	if key == "" {
		return nil, nil
	}

	res, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to direct lookups.
		g.log.Warn("geocode cache read failed", "error", err)
	} else if ok {
		g.metrics.IncGeocode(metrics.GeocodeHit)
		return res, nil
	}

	res, err = g.provider.Geocode(ctx, address)
	if err != nil {
		g.metrics.IncGeocode(metrics.GeocodeError)
		return nil, err
	}
	g.metrics.IncGeocode(metrics.GeocodeMiss)
	if err := g.cache.Set(ctx, key, res); err != nil {
		g.log.Warn("geocode cache write failed", "error", err)
	}
	return res, nil
}

// CacheKey folds case and whitespace so equivalent queries share an entry.
func CacheKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// DefaultTTL applies when no cache TTL is configured.
const DefaultTTL = 30 * 24 * time.Hour
