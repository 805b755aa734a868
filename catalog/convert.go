package catalog

import (
	"strconv"
	"time"

	"github.com/relata/tally/formula"
)

// parseNumber converts a stored numeric string. Unparseable or empty
// values surface as null so formulas fail loudly instead of computing
// on a silent zero.
func parseNumber(raw string) formula.Value {
	if raw == "" {
		return formula.Null()
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return formula.Null()
	}
	return formula.Number(f)
}

// parseDate converts a stored date string (YYYY-MM-DD or RFC3339).
func parseDate(raw string) formula.Value {
	if raw == "" {
		return formula.Null()
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return formula.DateValue(t)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return formula.DateValue(t)
	}
	return formula.Null()
}
