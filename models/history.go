// models/history.go
package models

import "time"

// ChangeKind separates real state changes from rejected incoming values.
type ChangeKind string

const (
	ChangeKindChanged     ChangeKind = "change"
	ChangeKindDiscrepancy ChangeKind = "discrepancy"
)

// FieldChange is one field-level outcome of a merge. For a discrepancy, Old is the retained
// value and New the rejected one.
type FieldChange struct {
	Field string     `json:"field"`
	Old   any        `json:"old"`
	New   any        `json:"new"`
	Kind  ChangeKind `json:"kind"`
}

// HasStateChanges reports whether any change in the list altered stored state.
func HasStateChanges(changes []FieldChange) bool {
	for _, c := range changes {
		if c.Kind == ChangeKindChanged {
			return true
		}
	}
	return false
}

// HistoryEntry is the immutable audit row for one FieldChange.
type HistoryEntry struct {
	ID         int64      `db:"id" json:"id"`
	PropertyID int64      `db:"property_id" json:"property_id"`
	Field      string     `db:"field_name" json:"field"`
	OldValue   *string    `db:"old_value" json:"old_value"`
	NewValue   *string    `db:"new_value" json:"new_value"`
	ChangeType ChangeKind `db:"change_type" json:"change_type"`
	Source     string     `db:"source" json:"source"`
	ChangedAt  time.Time  `db:"changed_at" json:"changed_at"`
}

// RunStatus summarizes how a collector batch went.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailure RunStatus = "failure"
)

// ScraperRun is the persisted report for one batch of records from a single source.
type ScraperRun struct {
	ID         string    `db:"id" json:"id"`
	Source     string    `db:"source" json:"source"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
	Status     RunStatus `db:"status" json:"status"`
	Found      int       `db:"found" json:"found"`
	Added      int       `db:"added" json:"added"`
	Updated    int       `db:"updated" json:"updated"`
	Unchanged  int       `db:"unchanged" json:"unchanged"`
	Skipped    int       `db:"skipped" json:"skipped"` // failed validation
	Failed     int       `db:"failed" json:"failed"`
	Errors     []string  `db:"errors" json:"errors,omitempty"`
}

// Duration is how long the run took.
func (r ScraperRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
