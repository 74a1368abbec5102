package utils

import (
	"testing"
	"time"
)

func TestFormatISOMillis(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 4, 5, 123456789, time.FixedZone("X", 3600))
	if got := FormatISOMillis(ts); got != "2024-03-01T09:04:05.123Z" {
		t.Fatalf("unexpected format: %s", got)
	}
}

func TestParseRFC3339(t *testing.T) {
	if _, err := ParseRFC3339(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
	ts, err := ParseRFC3339("2024-03-01T09:04:05Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Hour() != 9 {
		t.Fatalf("unexpected hour: %d", ts.Hour())
	}
}
