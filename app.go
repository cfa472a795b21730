// app.go
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gewnthar/propcat/config"
	"github.com/gewnthar/propcat/database"
	"github.com/gewnthar/propcat/geocode"
	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/metrics"
	"github.com/gewnthar/propcat/services"
)

// app holds what every command shares. It is filled in by setup before a command runs.
type app struct {
	configPath string
	logMode    string

	cfg      config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *database.SQLStore
	redis    *redis.Client
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if a.logMode != "" {
		cfg.Logging.Mode = a.logMode
	}
	a.cfg = cfg

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return fmt.Errorf("error building logger: %w", err)
	}
	a.log = log

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	store, err := database.Open(cmd.Context(), cfg.Database, log)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	a.store = store
	return nil
}

// Close releases whatever setup acquired. Safe to call when setup never ran.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.Error("failed to close database", "error", err)
		}
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// geocoder returns nil when geocoding is disabled.
func (a *app) geocoder(ctx context.Context) (geocode.Geocoder, error) {
	gc := a.cfg.Geocoding
	if !gc.Enabled {
		return nil, nil
	}
	if gc.LookupFile == "" {
		return nil, errors.New("geocoding is enabled but geocoding.lookup_file is not set")
	}
	provider, err := geocode.LoadFile(gc.LookupFile)
	if err != nil {
		return nil, err
	}
	a.log.Info("geocoding lookup loaded", "file", gc.LookupFile, "addresses", provider.Len())

	var cache geocode.Cache
	if gc.RedisAddr != "" {
		client, err := geocode.DialRedis(ctx, gc.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.redis = client
		cache = geocode.NewRedisCache(client, gc.CacheTTL)
	} else {
		cache = geocode.NewMemoryCache(gc.CacheTTL)
	}
	return geocode.NewCachingGeocoder(provider, cache, a.log, a.metrics), nil
}

func (a *app) engine(ctx context.Context) (*services.Engine, error) {
	opts := []services.EngineOption{
		services.WithLogger(a.log),
		services.WithMetrics(a.metrics),
		services.WithWorkers(a.cfg.Ingest.Workers),
		services.WithThreshold(a.cfg.Matching.FuzzyThreshold),
	}
	g, err := a.geocoder(ctx)
	if err != nil {
		return nil, err
	}
	if g != nil {
		opts = append(opts, services.WithGeocoder(g))
	}
	return services.NewEngine(a.store, opts...), nil
}
