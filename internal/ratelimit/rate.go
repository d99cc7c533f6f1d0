package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is a request count per window.
type Rate struct {
	Limit  int64
	Window time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d per %s", r.Limit, unitName(r.Window))
}

func unitName(d time.Duration) string {
	switch d {
	case time.Second:
		return "second"
	case time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	case 24 * time.Hour:
		return "day"
	}
	return d.String()
}

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hour": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour,
}

// ParseRate parses policies such as "10/minute", "10 per minute",
// "100/hours" or "5/s".
func ParseRate(s string) (Rate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	count, unit, ok := strings.Cut(s, "/")
	if !ok {
		count, unit, ok = strings.Cut(s, " per ")
	}
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: want <count>/<unit>", s)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(count), 10, 64)
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}
	unit = strings.TrimSpace(unit)
	window, ok := units[unit]
	if !ok {
		window, ok = units[strings.TrimSuffix(unit, "s")]
	}
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit %q", s, unit)
	}
	return Rate{Limit: n, Window: window}, nil
}
