package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.InDelta(t, 0.85, cfg.Matching.FuzzyThreshold, 1e-9)
	assert.Equal(t, 4, cfg.Ingest.Workers)
}

func TestLoadFileAndDurations(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
  host: db
  dbname: propcat
  user: app
  password: secret
  conn_max_lifetime: 90s
matching:
  fuzzy_threshold: 0.9
geocoding:
  cache_ttl: 2h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 2*time.Hour, cfg.Geocoding.CacheTTL)
	assert.Equal(t, "app:secret@tcp(db:3306)/propcat?parseTime=true", cfg.Database.MySQLDSN())
	// untouched sections keep their defaults
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROPCAT_DB_DSN", "file:test.db")
	t.Setenv("PROPCAT_FUZZY_THRESHOLD", "0.7")
	t.Setenv("PROPCAT_HTTP_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.InDelta(t, 0.7, cfg.Matching.FuzzyThreshold, 1e-9)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"mysql without host", func(c *Config) { c.Database.Driver = "mysql" }},
		{"threshold zero", func(c *Config) { c.Matching.FuzzyThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Matching.FuzzyThreshold = 1.5 }},
		{"no workers", func(c *Config) { c.Ingest.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "geocoding:\n  cache_ttl: forever\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "cache_ttl")
}
