package faultline

import (
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05.000000000 MST"

// Timestamp formats t for use in logs and reports, with nanosecond precision and the time zone
// name, e.g. "2024-03-01 14:02:59.123456789 UTC".
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// FileTimestamp formats t in UTC for use in file names: ISO 8601 without colons, e.g.
// "2024-03-01T140259.123Z".
func FileTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.ReplaceAll(s, ":", "")
}
