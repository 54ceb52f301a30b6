package util

import "time"

// IntervalStart truncates t to the start of its wall-clock aligned interval.
// A non-positive interval leaves t unchanged.
func IntervalStart(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	return t.Truncate(interval)
}

// ParseHTTPDate parses an RFC 7231 Date header value.
func ParseHTTPDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
