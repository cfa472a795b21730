// database/dialect.go
package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/gewnthar/propcat/models"
)

// Dialect holds what differs between the supported SQL servers.
type Dialect struct {
	Name            string
	autoID          string
	text            string
	shortText       string
	timestamp       string
	money           string
	uniqueViolation func(error) bool
}

var MySQL = Dialect{
	Name:      "mysql",
	autoID:    "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
	text:      "TEXT",
	shortText: "VARCHAR(255)",
	timestamp: "DATETIME(6)",
	money:     "DECIMAL(14,2)",
	uniqueViolation: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062 // ER_DUP_ENTRY
	},
}

var SQLite = Dialect{
	Name:      "sqlite3",
	autoID:    "INTEGER PRIMARY KEY AUTOINCREMENT",
	text:      "TEXT",
	shortText: "TEXT",
	timestamp: "DATETIME",
	money:     "REAL",
	uniqueViolation: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	},
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return MySQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

func (d Dialect) columnType(f models.FieldDef) string {
	switch f.Kind {
	case models.KindInt:
		return "INTEGER NULL"
	case models.KindFloat:
		return "DOUBLE NULL"
	case models.KindMoney:
		return d.money + " NULL"
	case models.KindBool:
		return "BOOLEAN NULL"
	case models.KindDate:
		return "DATE NULL"
	case models.KindTags:
		return d.text + " NULL"
	}
	if f.Name == models.FieldAuctionURL || f.Name == models.FieldFormattedAddress {
		return d.text + " NULL"
	}
	return d.shortText + " NULL"
}

// index renders a secondary index. MySQL declares it inside CREATE TABLE; SQLite gets a
// separate idempotent statement.
func (d Dialect) index(table, name, cols string) (inline, standalone string) {
	if d.Name == MySQL.Name {
		return fmt.Sprintf(",\n\t\t\tINDEX %s (%s)", name, cols), ""
	}
	return "", fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, cols)
}

// Schema returns the DDL statements in dependency order. Every statement is idempotent.
func (d Dialect) Schema() []string {
	var attrs strings.Builder
	for _, f := range models.Fields {
		fmt.Fprintf(&attrs, "\t\t\t%s %s,\n", f.Name, d.columnType(f))
	}
	stateCol := "CHAR(2)"
	suffix := " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	if d.Name == SQLite.Name {
		stateCol = "TEXT"
		suffix = ""
	}

	localityIdx, localityStmt := d.index("properties", "idx_properties_locality", "normalized_city, normalized_state")
	scoreIdx, scoreStmt := d.index("properties", "idx_properties_score", "abandonment_score, last_updated")
	obsIdx, obsStmt := d.index("source_observations", "idx_observations_property", "property_id, recorded_at")
	histIdx, histStmt := d.index("property_history", "idx_history_property", "property_id, changed_at")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS properties (
			id %[1]s,
			normalized_address %[2]s NOT NULL,
			normalized_city %[2]s NOT NULL,
			normalized_state %[3]s NOT NULL,
			address %[2]s NOT NULL,
			unit %[2]s NOT NULL DEFAULT '',
			city %[2]s NOT NULL DEFAULT '',
			state %[2]s NOT NULL,
%[4]s			abandonment_score INTEGER NOT NULL DEFAULT 0,
			discovery_date %[5]s NOT NULL,
			last_updated %[5]s NOT NULL,
			status_observed_at %[6]s NULL,
			data_sources %[6]s NULL,
			rejected_values %[6]s NULL,
			version BIGINT NOT NULL DEFAULT 1,
			UNIQUE (normalized_address, normalized_city, normalized_state)%[7]s%[8]s
		)%[9]s`,
			d.autoID, d.shortText, stateCol, attrs.String(), d.timestamp, d.text, localityIdx, scoreIdx, suffix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS source_observations (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			property_id BIGINT NOT NULL,
			source %[1]s NOT NULL,
			source_url %[2]s NULL,
			observed_at %[3]s NOT NULL,
			recorded_at %[3]s NOT NULL,
			payload %[2]s NOT NULL,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE%[4]s
		)%[5]s`, d.shortText, d.text, d.timestamp, obsIdx, suffix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS property_history (
			id %[1]s,
			property_id BIGINT NOT NULL,
			field_name %[2]s NOT NULL,
			old_value %[3]s NULL,
			new_value %[3]s NULL,
			change_type VARCHAR(16) NOT NULL,
			source %[2]s NOT NULL,
			changed_at %[4]s NOT NULL,
			FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE%[5]s
		)%[6]s`, d.autoID, d.shortText, d.text, d.timestamp, histIdx, suffix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS scraper_runs (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			source %[1]s NOT NULL,
			started_at %[2]s NOT NULL,
			finished_at %[2]s NOT NULL,
			status VARCHAR(16) NOT NULL,
			found INTEGER NOT NULL,
			added INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			unchanged INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			errors %[3]s NULL
		)%[4]s`, d.shortText, d.timestamp, d.text, suffix),
	}
	for _, stmt := range []string{localityStmt, scoreStmt, obsStmt, histStmt} {
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
