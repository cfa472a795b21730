// database/connection.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MariaDB/MySQL driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/gewnthar/propcat/config"
	"github.com/gewnthar/propcat/logger"
)

// Open connects to the configured database, verifies the connection and applies the
// schema. The returned store owns the pool; call Close on shutdown.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*SQLStore, error) {
	log = logger.OrNop(log)
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	var dsn string
	switch dialect.Name {
	case MySQL.Name:
		dsn = cfg.MySQLDSN()
	default:
		dsn = SQLiteDSN(cfg.DSN, cfg.Path)
	}

	db, err := sql.Open(dialect.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool settings
	if dialect.Name == SQLite.Name {
		// One writer at a time; readers queue behind it instead of failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
		db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 25))
		lifetime := cfg.ConnMaxLifetime
		if lifetime == 0 {
			lifetime = 5 * time.Minute
		}
		db.SetConnMaxLifetime(lifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, dialect, log)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("database connected", "driver", dialect.Name)
	return store, nil
}

// SQLiteDSN returns dsn when set, otherwise a file DSN for path with foreign keys enforced.
func SQLiteDSN(dsn, path string) string {
	if dsn != "" {
		return dsn
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
