// models/time.go
package models

import "time"

// DateOnly truncates t to a UTC calendar date, the form every date slot is stored in.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
