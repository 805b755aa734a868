package formula

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalOK(t *testing.T, source string, ctx Context) Value {
	t.Helper()
	v, err := Evaluate(source, ctx)
	require.NoError(t, err, "formula: %s", source)
	return v
}

func evalErr(t *testing.T, source string, ctx Context) *EvalError {
	t.Helper()
	_, err := Evaluate(source, ctx)
	require.Error(t, err, "formula: %s", source)
	ee := AsEvalError(err)
	require.NotNil(t, ee, "expected *EvalError, got %T", err)
	return ee
}

func TestLiteralArithmetic(t *testing.T) {
	// Literal-only formulas behave like a calculator, independent of context.
	tests := []struct {
		source string
		want   float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"-5 + 3", -2},
		{"2 * -3", -6},
	}
	for _, tt := range tests {
		got := evalOK(t, tt.source, nil)
		assert.Equal(t, KindNumber, got.Kind, tt.source)
		assert.InDelta(t, tt.want, got.Num, 1e-9, tt.source)
	}
}

func TestLiteralBooleans(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"true", true},
		{"false || true", true},
		{"true && false", false},
		{"!false", true},
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"5 >= 5", true},
		{"1 = 1", true},
		{"1 == 2", false},
		{"1 != 2", true},
		{"1 <> 1", false},
		{"'a' < 'b'", true},
		{"'Zoe' = 'zoe'", false}, // case-sensitive
	}
	for _, tt := range tests {
		got := evalOK(t, tt.source, nil)
		assert.Equal(t, KindBool, got.Kind, tt.source)
		assert.Equal(t, tt.want, got.Bool, tt.source)
	}
}

func TestAbsentFieldIsNull(t *testing.T) {
	got := evalOK(t, "ISNULL({ghost})", Context{})
	assert.True(t, got.Bool)

	// Arithmetic touching null fails with a type error, never coerces to zero.
	ee := evalErr(t, "{ghost} + 1", Context{})
	assert.Equal(t, ErrKindType, ee.Kind)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		source string
		want   float64
	}{
		{"ROUND(2.345, 2)", 2.35},
		{"ROUND(-2.345, 2)", -2.35},
		{"ROUND(2.5)", 3},
		{"ROUND(-2.5)", -3},
		{"ROUND(1.005, 2)", 1.01},
		{"ROUND(2.675, 2)", 2.68},
		{"ROUND(-1.005, 2)", -1.01},
		{"ROUND(9.95, 1)", 10},
		{"ROUND(7.4)", 7},
		{"ROUND(1.23456789, 4)", 1.2346},
	}
	for _, tt := range tests {
		got := evalOK(t, tt.source, nil)
		assert.InDelta(t, tt.want, got.Num, 1e-9, tt.source)
	}
}

func TestConcatenateRoundTrip(t *testing.T) {
	ctx := Context{
		"fname": TextValue("ann"),
		"lname": TextValue("Lee"),
	}
	got := evalOK(t, `CONCATENATE(UPPER({fname}), " ", {lname})`, ctx)
	assert.Equal(t, "ANN Lee", got.Text)
}

func TestQualificationFormula(t *testing.T) {
	source := `IF(AND({score} > 10, NOT(ISBLANK({email}))), "qualified", "new")`

	got := evalOK(t, source, Context{
		"score": Number(15),
		"email": TextValue("a@b.com"),
	})
	assert.Equal(t, "qualified", got.Text)

	got = evalOK(t, source, Context{
		"score": Number(15),
		"email": TextValue(""),
	})
	assert.Equal(t, "new", got.Text)
}

func TestIFIsLazy(t *testing.T) {
	// The untaken branch must not be evaluated: the true branch would be
	// a type error if evaluated here.
	got := evalOK(t, `IF(false, {missing} + 1, 42)`, Context{})
	assert.Equal(t, float64(42), got.Num)
}

func TestShortCircuit(t *testing.T) {
	// AND stops at the first false; the type error in the second argument
	// is never reached.
	got := evalOK(t, `AND(false, {missing} + 1 > 0)`, Context{})
	assert.False(t, got.Bool)

	got = evalOK(t, `OR(true, {missing} + 1 > 0)`, Context{})
	assert.True(t, got.Bool)
}

func TestStringFunctions(t *testing.T) {
	assert.Equal(t, "HELLO", evalOK(t, `UPPER("hello")`, nil).Text)
	assert.Equal(t, "hello", evalOK(t, `LOWER("HELLO")`, nil).Text)
	assert.Equal(t, float64(5), evalOK(t, `LEN("hello")`, nil).Num)
	assert.Equal(t, float64(0), evalOK(t, `LEN("")`, nil).Num)
}

func TestNumericFunctions(t *testing.T) {
	assert.Equal(t, float64(3), evalOK(t, `ABS(-3)`, nil).Num)
	assert.Equal(t, float64(9), evalOK(t, `MAX(3, 9, 4)`, nil).Num)
	assert.Equal(t, float64(3), evalOK(t, `MIN(3, 9, 4)`, nil).Num)
}

func TestDateDiff(t *testing.T) {
	got := evalOK(t, `DATEDIFF("2024-03-10", "2024-03-01")`, nil)
	assert.Equal(t, float64(9), got.Num)

	// Negative spans floor toward negative infinity
	got = evalOK(t, `DATEDIFF("2024-03-01", "2024-03-10")`, nil)
	assert.Equal(t, float64(-9), got.Num)
}

func TestDateDiffWithDateValues(t *testing.T) {
	ctx := Context{
		"created_at": DateValue(time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)),
	}
	got := evalOK(t, `DATEDIFF("2024-01-20", {created_at})`, ctx)
	assert.Equal(t, float64(10), got.Num)
}

func TestToday(t *testing.T) {
	got := evalOK(t, `DATEDIFF(TODAY(), TODAY())`, nil)
	assert.Equal(t, float64(0), got.Num)
}

func TestConcatOperator(t *testing.T) {
	got := evalOK(t, `"total: " & 3 * 7`, nil)
	assert.Equal(t, "total: 21", got.Text)

	// Null formats as empty text in concatenation
	got = evalOK(t, `"x" & {missing} & "y"`, Context{})
	assert.Equal(t, "xy", got.Text)
}

func TestIsBlank(t *testing.T) {
	assert.True(t, evalOK(t, `ISBLANK("")`, nil).Bool)
	assert.True(t, evalOK(t, `ISBLANK({missing})`, Context{}).Bool)
	assert.False(t, evalOK(t, `ISBLANK("x")`, nil).Bool)
	assert.False(t, evalOK(t, `ISBLANK(0)`, nil).Bool)
}

func TestIsNull(t *testing.T) {
	assert.True(t, evalOK(t, `ISNULL(null)`, nil).Bool)
	assert.False(t, evalOK(t, `ISNULL("")`, nil).Bool)
}

func TestTypeErrors(t *testing.T) {
	tests := []string{
		`"a" + 1`,
		`1 + "a"`,
		`UPPER(5)`,
		`NOT(1)`,
		`IF(1, 2, 3)`,
		`true && 1`,
		`1 < "a"`,
		`-"text"`,
	}
	for _, source := range tests {
		ee := evalErr(t, source, nil)
		assert.Equal(t, ErrKindType, ee.Kind, source)
	}
}

func TestUnknownFunction(t *testing.T) {
	ee := evalErr(t, `FROBNICATE(1)`, nil)
	assert.Equal(t, ErrKindUnknownFunction, ee.Kind)
	assert.Equal(t, "FROBNICATE", ee.Token)
	require.NotEmpty(t, ee.Suggestions)
}

func TestArityErrors(t *testing.T) {
	tests := []string{
		`IF(true, 1)`,
		`NOT(true, false)`,
		`ROUND(1, 2, 3)`,
		`TODAY(1)`,
		`DATEDIFF("2024-01-01")`,
		`AND()`,
	}
	for _, source := range tests {
		ee := evalErr(t, source, nil)
		assert.Equal(t, ErrKindArity, ee.Kind, source)
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []string{
		`1 +`,
		`(1 + 2`,
		`IF(true, 1, 2`,
		`{unclosed`,
		`"unclosed`,
		`1 | 2`,
		"1 ; 2",
		`score`, // bare identifier is not a field reference
	}
	for _, source := range tests {
		ee := evalErr(t, source, nil)
		assert.Equal(t, ErrKindSyntax, ee.Kind, source)
	}
}

func TestEqualityAcrossKinds(t *testing.T) {
	assert.False(t, evalOK(t, `1 = "1"`, nil).Bool)
	assert.True(t, evalOK(t, `null = null`, nil).Bool)
	assert.False(t, evalOK(t, `null = 0`, nil).Bool)
	assert.True(t, evalOK(t, `{missing} = null`, Context{}).Bool)
}

func TestEvaluateIsPure(t *testing.T) {
	ctx := Context{"score": Number(10)}
	first := evalOK(t, `{score} * 2`, ctx)
	second := evalOK(t, `{score} * 2`, ctx)
	assert.Equal(t, first, second)
	assert.Equal(t, Number(10), ctx["score"])
}

func TestParseOnceEvaluateMany(t *testing.T) {
	root, err := Parse(`{score} >= 50`)
	require.NoError(t, err)

	pass, err := EvaluateParsed(root, Context{"score": Number(80)})
	require.NoError(t, err)
	assert.True(t, pass.Bool)

	fail, err := EvaluateParsed(root, Context{"score": Number(20)})
	require.NoError(t, err)
	assert.False(t, fail.Bool)
}

func TestExtractFieldRefs(t *testing.T) {
	refs, err := ExtractFieldRefs(`IF({score} > 10, {email}, {score} & "")`)
	require.NoError(t, err)
	assert.Equal(t, []string{"score", "email"}, refs)

	refs, err = ExtractFieldRefs(`1 + 2`)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestEscapedQuotes(t *testing.T) {
	got := evalOK(t, `'it''s'`, nil)
	assert.Equal(t, "it's", got.Text)

	got = evalOK(t, `"say ""hi"""`, nil)
	assert.Equal(t, `say "hi"`, got.Text)
}

func TestKeywordsCaseInsensitive(t *testing.T) {
	assert.True(t, evalOK(t, `TRUE`, nil).Bool)
	assert.False(t, evalOK(t, `False`, nil).Bool)
	assert.True(t, evalOK(t, `NULL = null`, nil).Bool)
}
