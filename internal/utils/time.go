package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnixTimeToTime converts a Unix timestamp to a time.Time object
func UnixTimeToTime(unixTime int64) time.Time {
	return time.Unix(unixTime, 0).UTC()
}

// ParseTimestamp accepts RFC 3339, a plain date, or Unix seconds, which are
// the shapes older records stored expiries in.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return UnixTimeToTime(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
