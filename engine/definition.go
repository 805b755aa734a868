// Package engine owns formula definitions: their persistence, the
// read-only lock on target fields, and the service operations callers
// use to create, validate, recompute, and schedule formulas.
package engine

import (
	"strings"
	"time"
	"unicode"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/pulse/schedule"
)

// FormulaDefinition is one stored formula field.
type FormulaDefinition struct {
	ID              string            `json:"id"`
	Module          catalog.Module    `json:"module"`
	FieldName       string            `json:"field_name"`
	FieldLabel      string            `json:"field_label"`
	ReturnType      catalog.FieldType `json:"return_type"`
	Expression      string            `json:"formula_expression"`
	Description     string            `json:"description,omitempty"`
	UpdateSchedule  schedule.Cadence  `json:"update_schedule"`
	TargetFieldName *string           `json:"target_field_name,omitempty"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TargetSlot returns the record-value slot computed results are written
// into: the target custom field when one is set, otherwise the formula's
// own field name.
func (d *FormulaDefinition) TargetSlot() string {
	if d.TargetFieldName != nil && *d.TargetFieldName != "" {
		return *d.TargetFieldName
	}
	return d.FieldName
}

// Descriptor projects the definition into the available-fields catalog.
// Formula fields are always read-only; only the engine writes them.
func (d *FormulaDefinition) Descriptor() catalog.FieldDescriptor {
	return catalog.FieldDescriptor{
		FieldName:  d.FieldName,
		FieldLabel: d.FieldLabel,
		FieldType:  d.ReturnType,
		Origin:     catalog.OriginFormula,
		IsReadOnly: true,
	}
}

// FieldNameFromLabel derives a stable field name from a human label:
// lowercased, runs of non-alphanumerics collapsed to underscores. Labels
// that reduce to nothing usable get a generic name.
func FieldNameFromLabel(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "formula_field"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "formula_" + name
	}
	return name
}
