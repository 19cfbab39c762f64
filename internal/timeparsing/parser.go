// Package timeparsing turns the time expressions accepted by CLI date
// filters (`jobs list --since`) into time.Time values. Callers go through
// ParseRelativeTime, which layers compact durations, absolute formats and
// natural language; the individual layers are exported for direct use.
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]): +6h, -1d, +2w, 3m, 1y.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration resolves a compact duration against now.
//
// Units are h(ours), d(ays), w(eeks), m(onths) and y(ears); an omitted sign
// means forward. "-1d" is yesterday at the same clock time, "+2w" two weeks
// out. Day and larger units go through AddDate so month lengths and DST
// transitions follow the calendar rather than a fixed hour count.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", matches[2])
	}
	if matches[1] == "-" {
		amount = -amount
	}

	return applyDuration(now, amount, matches[3]), nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		// Unreachable while the regexp and this switch agree on units.
		return base
	}
}

// IsCompactDuration reports whether s is compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}
