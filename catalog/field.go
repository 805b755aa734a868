// Package catalog describes the fields available to formulas in each
// module: compiled-in standard columns, admin-defined custom fields, and
// the formula fields themselves. It also hosts the formula validator,
// which checks expressions against the catalog without touching live
// records.
package catalog

import (
	"time"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/formula"
)

// Module identifies a record module.
type Module string

const (
	ModuleLeads    Module = "leads"
	ModuleAccounts Module = "accounts"
)

// ParseModule validates a module name.
func ParseModule(s string) (Module, error) {
	switch Module(s) {
	case ModuleLeads, ModuleAccounts:
		return Module(s), nil
	default:
		return "", errors.NewInvalidRequestError("unknown module %q", s)
	}
}

// Modules returns all known modules.
func Modules() []Module {
	return []Module{ModuleLeads, ModuleAccounts}
}

// FieldType is the declared type of a field.
type FieldType string

const (
	FieldTypeText        FieldType = "TEXT"
	FieldTypeTextarea    FieldType = "TEXTAREA"
	FieldTypeNumber      FieldType = "NUMBER"
	FieldTypeDate        FieldType = "DATE"
	FieldTypeBoolean     FieldType = "BOOLEAN"
	FieldTypeSelect      FieldType = "SELECT"
	FieldTypeRadio       FieldType = "RADIO"
	FieldTypeMultiselect FieldType = "MULTISELECT"
)

// IsValidFieldType reports whether s names a known field type.
func IsValidFieldType(s string) bool {
	switch FieldType(s) {
	case FieldTypeText, FieldTypeTextarea, FieldTypeNumber, FieldTypeDate,
		FieldTypeBoolean, FieldTypeSelect, FieldTypeRadio, FieldTypeMultiselect:
		return true
	default:
		return false
	}
}

// FieldOrigin records where a catalog entry came from.
type FieldOrigin string

const (
	OriginStandard FieldOrigin = "standard"
	OriginCustom   FieldOrigin = "custom"
	OriginFormula  FieldOrigin = "formula"
)

// FieldDescriptor is one entry in the available-fields catalog.
type FieldDescriptor struct {
	FieldName  string      `json:"field_name"`
	FieldLabel string      `json:"field_label"`
	FieldType  FieldType   `json:"field_type"`
	Origin     FieldOrigin `json:"origin"`
	IsReadOnly bool        `json:"is_read_only"`
}

// Standard fields per module. Aggregate columns (task_count, call_count,
// product_total) are derived at context-assembly time but appear in the
// catalog like any other numeric column.
var standardFields = map[Module][]FieldDescriptor{
	ModuleLeads: {
		{FieldName: "first_name", FieldLabel: "First Name", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "last_name", FieldLabel: "Last Name", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "email", FieldLabel: "Email", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "phone", FieldLabel: "Phone", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "company", FieldLabel: "Company", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "status", FieldLabel: "Status", FieldType: FieldTypeSelect, Origin: OriginStandard},
		{FieldName: "score", FieldLabel: "Score", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "created_date", FieldLabel: "Created Date", FieldType: FieldTypeDate, Origin: OriginStandard},
		{FieldName: "task_count", FieldLabel: "Task Count", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "call_count", FieldLabel: "Call Count", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "product_total", FieldLabel: "Product Total", FieldType: FieldTypeNumber, Origin: OriginStandard},
	},
	ModuleAccounts: {
		{FieldName: "name", FieldLabel: "Name", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "website", FieldLabel: "Website", FieldType: FieldTypeText, Origin: OriginStandard},
		{FieldName: "industry", FieldLabel: "Industry", FieldType: FieldTypeSelect, Origin: OriginStandard},
		{FieldName: "employee_count", FieldLabel: "Employee Count", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "annual_revenue", FieldLabel: "Annual Revenue", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "created_date", FieldLabel: "Created Date", FieldType: FieldTypeDate, Origin: OriginStandard},
		{FieldName: "task_count", FieldLabel: "Task Count", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "call_count", FieldLabel: "Call Count", FieldType: FieldTypeNumber, Origin: OriginStandard},
		{FieldName: "product_total", FieldLabel: "Product Total", FieldType: FieldTypeNumber, Origin: OriginStandard},
	},
}

// StandardFields returns the compiled-in fields for a module.
func StandardFields(module Module) []FieldDescriptor {
	fields := standardFields[module]
	out := make([]FieldDescriptor, len(fields))
	copy(out, fields)
	return out
}

// SyntheticValue returns the representative value used during validation
// for a field of the given declared type. Selection-style fields behave
// as text.
func SyntheticValue(ft FieldType) formula.Value {
	switch ft {
	case FieldTypeNumber:
		return formula.Number(100)
	case FieldTypeDate:
		return formula.DateValue(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	case FieldTypeBoolean:
		return formula.Boolean(true)
	default:
		return formula.TextValue("test")
	}
}

// ValueForType converts a stored string into a typed formula value
// according to the field's declared type, so downstream type checking is
// driven by the catalog rather than inferred from representation.
func ValueForType(raw string, ft FieldType) formula.Value {
	switch ft {
	case FieldTypeNumber:
		return parseNumber(raw)
	case FieldTypeDate:
		return parseDate(raw)
	case FieldTypeBoolean:
		return formula.Boolean(raw == "true" || raw == "1")
	default:
		return formula.TextValue(raw)
	}
}
