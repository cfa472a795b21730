// scraper/csv_parser.go
package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/gewnthar/propcat/models"
	"github.com/gewnthar/propcat/normalize"
)

// taxRollRow holds the columns every delinquent tax roll carries. All other columns are
// passed through by name.
type taxRollRow struct {
	Address string `csv:"address"`
	City    string `csv:"city,omitempty"`
	State   string `csv:"state"`
}

// ParseTaxDelinquencyCSV reads a county delinquent tax roll. Column names are mapped onto
// canonical field names; every row is marked tax delinquent unless the roll says otherwise.
// A missing address or state column is an error; bad rows are left to the normalizer.
func ParseTaxDelinquencyCSV(r io.Reader, source string, observedAt time.Time) ([]models.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	raw, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tax roll header: %w", err)
	}
	header := make([]string, len(raw))
	has := map[string]bool{}
	for i, h := range raw {
		header[i] = normalize.CanonicalName(strings.TrimPrefix(h, "\ufeff"))
		has[header[i]] = true
	}
	for _, required := range []string{"address", "state"} {
		if !has[required] {
			return nil, fmt.Errorf("tax roll has no %s column", required)
		}
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder for tax roll: %w", err)
	}

	var records []models.RawRecord
	for line := 2; ; line++ {
		var row taxRollRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode tax roll line %d: %w", line, err)
		}

		fields := map[string]any{
			"address": row.Address,
			"state":   row.State,
		}
		if row.City != "" {
			fields["city"] = row.City
		}
		record := dec.Record()
		for _, i := range dec.Unused() {
			if i < len(header) && header[i] != "" && strings.TrimSpace(record[i]) != "" {
				fields[header[i]] = record[i]
			}
		}
		if _, ok := fields[models.FieldTaxDelinquent]; !ok {
			fields[models.FieldTaxDelinquent] = true
		}

		records = append(records, models.RawRecord{
			Source:     source,
			ObservedAt: observedAt,
			Fields:     fields,
		})
	}
	return records, nil
}
