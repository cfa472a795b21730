// history/history.go
package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gewnthar/propcat/models"
)

// Record converts a merge change list into audit entries, one per change, all stamped with
// the triggering source and the merge timestamp. It is called by repositories inside the
// transaction that saves the property.
func Record(propertyID int64, changes []models.FieldChange, source string, at time.Time) []models.HistoryEntry {
	if len(changes) == 0 {
		return nil
	}
	entries := make([]models.HistoryEntry, 0, len(changes))
	for _, c := range changes {
		kind := c.Kind
		if kind == "" {
			kind = models.ChangeKindChanged
		}
		entries = append(entries, models.HistoryEntry{
			PropertyID: propertyID,
			Field:      c.Field,
			OldValue:   FormatValue(c.Old),
			NewValue:   FormatValue(c.New),
			ChangeType: kind,
			Source:     source,
			ChangedAt:  at.UTC(),
		})
	}
	return entries
}

// FormatValue renders a field value as stored in history rows. Nil stays nil (SQL NULL).
func FormatValue(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		s = t.UTC().Format("2006-01-02")
	case []string:
		s = strings.Join(t, ",")
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

