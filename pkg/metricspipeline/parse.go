package metricspipeline

import (
	"strconv"
	"strings"
	"time"
)

// parseIntOrZero parses a trimmed integer, returning 0 on any malformed
// input rather than failing the whole sample over a cosmetic field.
func parseIntOrZero(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// parseStartedAt parses the runtime's ISO-8601 started-at timestamp,
// returning the zero time on any unparseable or sentinel value.
func parseStartedAt(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
