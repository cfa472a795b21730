// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite3"
	DSN      string `yaml:"dsn"`    // overrides the fields below when set
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Path     string `yaml:"path"` // sqlite file

	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetimeStr string        `yaml:"conn_max_lifetime"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
}

type MatchingConfig struct {
	FuzzyEnabled   bool    `yaml:"fuzzy_enabled"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

type IngestConfig struct {
	Workers int `yaml:"workers"`
}

type GeocodingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	LookupFile  string        `yaml:"lookup_file"` // CSV of known coordinates
	RedisAddr   string        `yaml:"redis_addr"`  // empty: in-process cache
	CacheTTLStr string        `yaml:"cache_ttl"`
	CacheTTL    time.Duration `yaml:"-"`
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Matching  MatchingConfig  `yaml:"matching"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns a configuration that runs against a local SQLite file.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "propcat.db",
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Matching:  MatchingConfig{FuzzyEnabled: true, FuzzyThreshold: 0.85},
		Ingest:    IngestConfig{Workers: 4},
		Geocoding: GeocodingConfig{CacheTTL: 30 * 24 * time.Hour},
		Logging:   LoggingConfig{Mode: "development"},
	}
}

// Load reads an optional .env file, then the YAML file at path (if path is non-empty),
// then PROPCAT_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Parse durations
	if cfg.Database.ConnMaxLifetimeStr != "" {
		d, err := time.ParseDuration(cfg.Database.ConnMaxLifetimeStr)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse conn_max_lifetime: %w", err)
		}
		cfg.Database.ConnMaxLifetime = d
	}
	if cfg.Geocoding.CacheTTLStr != "" {
		d, err := time.ParseDuration(cfg.Geocoding.CacheTTLStr)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse cache_ttl: %w", err)
		}
		cfg.Geocoding.CacheTTL = d
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PROPCAT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PROPCAT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PROPCAT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PROPCAT_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PROPCAT_REDIS_ADDR"); v != "" {
		cfg.Geocoding.RedisAddr = v
	}
	if v := os.Getenv("PROPCAT_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("PROPCAT_FUZZY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PROPCAT_FUZZY_THRESHOLD %q: %w", v, err)
		}
		cfg.Matching.FuzzyThreshold = f
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.DBName == "") {
			return errors.New("config: mysql requires dsn or host and dbname")
		}
	case "sqlite3", "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			return errors.New("config: sqlite requires dsn or path")
		}
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Matching.FuzzyThreshold <= 0 || c.Matching.FuzzyThreshold > 1 {
		return fmt.Errorf("config: fuzzy_threshold must be in (0, 1], got %v", c.Matching.FuzzyThreshold)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("config: ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	return nil
}

// MySQLDSN builds the go-sql-driver DSN from the discrete fields.
func (d DatabaseConfig) MySQLDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	port := d.Port
	if port == "" {
		port = "3306"
	}
	// DSN: username:password@protocol(address)/dbname?param=value
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", d.User, d.Password, d.Host, port, d.DBName)
}
