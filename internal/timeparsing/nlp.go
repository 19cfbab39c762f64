package timeparsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// nlpParser is the shared natural-language parser. Rule sets are immutable
// after construction, so a single instance serves all goroutines.
var nlpParser = newNLPParser()

func newNLPParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage parses a natural-language time expression relative to now.
//
// Examples:
//   - "tomorrow", "yesterday"
//   - "next monday", "next friday at 2pm"
//   - "in 3 days", "in 1 week"
//   - "3 days ago"
//
// Returns an error when the input contains no recognizable time expression.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	result, err := nlpParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("no time expression found in %q", s)
	}
	return result.Time, nil
}

// ParseRelativeTime parses a time expression using the layered architecture:
//
//	Layer 1: compact duration (+6h, -1d, +2w)
//	Layer 2: absolute date-only (2006-01-02, midnight local)
//	Layer 3: absolute RFC3339 timestamp
//	Layer 4: natural language ("tomorrow", "next monday at 2pm")
//
// Absolute formats are tried before natural language so that exact dates
// never depend on NLP rule behavior.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time expression: %q", s)
}
