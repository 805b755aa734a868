// Package sym defines canonical symbols for tally system markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// System markers — attached to structured log lines so related output
// can be scanned visually in a terminal.
const (
	DB      = "⛁" // database operations
	Pulse   = "≋" // scheduler ticks and recompute runs
	Formula = "ƒ" // formula evaluation
	Lock    = "⊘" // field-lock coordination
	Field   = "▤" // field catalog
)

// Names maps each glyph to its stable identifier.
var Names = map[string]string{
	DB:      "db",
	Pulse:   "pulse",
	Formula: "formula",
	Lock:    "lock",
	Field:   "field",
}

// Name returns the stable identifier for a glyph, or "" if unknown.
func Name(glyph string) string {
	return Names[glyph]
}
