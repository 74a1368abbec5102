package utils

import (
	"fmt"
	"time"
)

// isoMillis matches the ISO-8601 millisecond layout used by the telemetry API.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// FormatISOMillis renders t in UTC with millisecond precision.
func FormatISOMillis(t time.Time) string {
	return t.UTC().Format(isoMillis)
}
