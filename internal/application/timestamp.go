package application

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// millisThreshold separates unix seconds from unix milliseconds. 1e12 seconds is
// tens of thousands of years away, while Messenger sends millisecond stamps.
const millisThreshold = 1e12

// maxUnixMillis is 9999-12-31T23:59:59.999Z. Larger values would overflow int64 on
// conversion, so they count as unparseable.
const maxUnixMillis = 253402300799999

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700", // Graph API "+0000" form
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts time.Time, unix seconds or milliseconds as numbers or numeric
// strings, and ISO-8601 strings. The boolean is false when nothing matched.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), !t.IsZero()
	case int:
		return fromUnix(float64(t))
	case int64:
		return fromUnix(float64(t))
	case float64:
		return fromUnix(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 || f > maxUnixMillis || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
