package types

import (
	"math"
	"strconv"
	"strings"
)

// ParseAmount converts a raw table value to a float64. Base tables store
// amounts as text; well-formed decimals parse directly, Brazilian-formatted
// values ("1.234,56") are converted by dropping thousand separators and
// swapping the decimal comma. Unparseable values collapse to 0 — bad cells
// must not abort a reconciliation run.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "NULL" {
		return 0
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	// Brazilian format: "." groups thousands, "," marks decimals.
	if strings.Contains(s, ",") {
		normalized := strings.ReplaceAll(s, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
		if v, err := strconv.ParseFloat(normalized, 64); err == nil {
			return v
		}
	}
	return 0
}

// Round6 normalizes a float to 6-decimal precision. Group sums are rounded
// before comparison so float accumulation error cannot flip a classification.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
