package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relata/tally/formula"
)

func TestValidateAcceptsGoodFormula(t *testing.T) {
	for _, module := range Modules() {
		fields := StandardFields(module)
		err := Validate(`IF({task_count} > 5, "busy", "quiet")`, fields)
		assert.NoError(t, err, module)
	}
}

func TestValidateListsAllMissingFields(t *testing.T) {
	fields := StandardFields(ModuleLeads)

	err := Validate(`{ghost} & {phantom} & {email}`, fields)
	require.Error(t, err)

	ve := AsValidationError(err)
	require.NotNil(t, ve)
	assert.Equal(t, []string{"ghost", "phantom"}, ve.MissingFields)
	assert.Contains(t, ve.Error(), "ghost")
	assert.Contains(t, ve.Error(), "phantom")

	// Renderers get the same failure as a positioned unknown-field error.
	require.NotNil(t, ve.Eval)
	assert.Equal(t, formula.ErrKindUnknownField, ve.Eval.Kind)
	assert.Equal(t, "{ghost}", ve.Eval.Token)
	assert.Equal(t, 0, ve.Eval.Pos)
}

func TestValidateGhostFieldEveryModule(t *testing.T) {
	for _, module := range Modules() {
		err := Validate(`{ghost} + 1`, StandardFields(module))
		ve := AsValidationError(err)
		require.NotNil(t, ve, module)
		assert.Equal(t, []string{"ghost"}, ve.MissingFields, module)
	}
}

func TestValidateSurfacesEvalErrors(t *testing.T) {
	fields := StandardFields(ModuleLeads)

	// email is TEXT, synthetic value "test": arithmetic on it must fail
	err := Validate(`{email} + 1`, fields)
	ve := AsValidationError(err)
	require.NotNil(t, ve)
	require.NotNil(t, ve.Eval)
	assert.Equal(t, formula.ErrKindType, ve.Eval.Kind)
}

func TestValidateSurfacesSyntaxErrors(t *testing.T) {
	err := Validate(`IF({score} > 10, "a"`, StandardFields(ModuleLeads))
	ve := AsValidationError(err)
	require.NotNil(t, ve)
	require.NotNil(t, ve.Eval)
	assert.Equal(t, formula.ErrKindSyntax, ve.Eval.Kind)
}

func TestValidateDoesNotJudgeResultValue(t *testing.T) {
	// A formula that evaluates to false is still valid
	err := Validate(`{score} > 1000000`, StandardFields(ModuleLeads))
	assert.NoError(t, err)
}

func TestSyntheticValues(t *testing.T) {
	assert.Equal(t, formula.Number(100), SyntheticValue(FieldTypeNumber))
	assert.Equal(t, formula.Boolean(true), SyntheticValue(FieldTypeBoolean))
	assert.Equal(t, formula.TextValue("test"), SyntheticValue(FieldTypeText))
	assert.Equal(t, formula.TextValue("test"), SyntheticValue(FieldTypeMultiselect))
	assert.Equal(t, formula.KindDate, SyntheticValue(FieldTypeDate).Kind)
}

func TestValueForType(t *testing.T) {
	assert.Equal(t, formula.Number(42.5), ValueForType("42.5", FieldTypeNumber))
	assert.Equal(t, formula.Null(), ValueForType("", FieldTypeNumber))
	assert.Equal(t, formula.Null(), ValueForType("abc", FieldTypeNumber))
	assert.Equal(t, formula.Boolean(true), ValueForType("true", FieldTypeBoolean))
	assert.Equal(t, formula.Boolean(false), ValueForType("no", FieldTypeBoolean))
	assert.Equal(t, formula.TextValue("hello"), ValueForType("hello", FieldTypeText))
	assert.Equal(t, formula.KindDate, ValueForType("2024-06-01", FieldTypeDate).Kind)
	assert.Equal(t, formula.Null(), ValueForType("not-a-date", FieldTypeDate))
}

func TestParseModule(t *testing.T) {
	m, err := ParseModule("leads")
	require.NoError(t, err)
	assert.Equal(t, ModuleLeads, m)

	_, err = ParseModule("contacts")
	assert.Error(t, err)
}
